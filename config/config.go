// Package config persists device and channel assignments as a small JSON
// document.  The document maps controller serial numbers to per-channel
// tuples of stage, role, and linked group; absent values are explicit
// nulls and survive a load/save round trip.
//
// A Store loads the document once and mutates it in memory; mutators
// persist immediately.  The Store is not safe for concurrent writers, the
// manager serializes access to it.
package config

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Version written to new documents
const Version = "1.0"

// Channel is the assignment tuple for one channel of a controller.  Nil
// means unassigned and round-trips as JSON null.
type Channel struct {
	// Stage is a stage ID from the registry
	Stage *string `json:"stage"`

	// Role is a free-form label for what the axis does, e.g.
	// "674_hwp_rotation"
	Role *string `json:"role"`

	// LinkedGroup names a group of channels that move together
	LinkedGroup *string `json:"linked_group"`
}

// Controller is the channel table for one device, keyed by the decimal
// channel number
type Controller struct {
	Channels map[string]Channel `json:"channels"`
}

// Document is the persisted document shape
type Document struct {
	Version     string                `json:"_version"`
	Controllers map[string]Controller `json:"controllers"`
}

func defaultDocument() Document {
	return Document{Version: Version, Controllers: map[string]Controller{}}
}

// Store holds the loaded document and the path it persists to
type Store struct {
	path string
	doc  Document
}

// Open loads the document at path.  A missing file yields the empty
// default silently; an unreadable or corrupt file yields the default with
// a logged warning.  Open never fails.
func Open(path string) *Store {
	s := &Store{path: path, doc: defaultDocument()}
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("warning: could not load %s: %v", path, err)
		}
		return s
	}
	var doc Document
	if err := json.Unmarshal(buf, &doc); err != nil {
		log.Printf("warning: could not load %s: %v", path, err)
		return s
	}
	if doc.Version == "" {
		doc.Version = Version
	}
	if doc.Controllers == nil {
		doc.Controllers = map[string]Controller{}
	}
	s.doc = doc
	return s
}

// Path returns the file the store persists to
func (s *Store) Path() string { return s.path }

// Document returns a deep copy of the current document
func (s *Store) Document() Document {
	out := Document{Version: s.doc.Version, Controllers: map[string]Controller{}}
	for serial, ctl := range s.doc.Controllers {
		channels := map[string]Channel{}
		for ch, c := range ctl.Channels {
			channels[ch] = c
		}
		out.Controllers[serial] = Controller{Channels: channels}
	}
	return out
}

// Save writes the document to its path, creating parent directories as
// needed.  The write goes to a temporary file in the same directory which
// is renamed over the target, so a crash cannot leave a torn document.
func (s *Store) Save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	buf, err := json.MarshalIndent(s.doc, "", "    ")
	if err != nil {
		return err
	}
	f, err := ioutil.TempFile(dir, ".devices-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

// Channel returns the assignment tuple for a channel and whether one is
// recorded
func (s *Store) Channel(serial string, channel int) (Channel, bool) {
	ctl, ok := s.doc.Controllers[serial]
	if !ok {
		return Channel{}, false
	}
	c, ok := ctl.Channels[strconv.Itoa(channel)]
	return c, ok
}

// SetChannel overwrites a channel's assignment tuple wholesale and
// persists the document.  The controller entry is created if absent.
func (s *Store) SetChannel(serial string, channel int, c Channel) error {
	ctl, ok := s.doc.Controllers[serial]
	if !ok || ctl.Channels == nil {
		ctl = Controller{Channels: map[string]Channel{}}
	}
	ctl.Channels[strconv.Itoa(channel)] = c
	s.doc.Controllers[serial] = ctl
	return s.Save()
}

// EnsureController registers a newly discovered device with all-null
// tuples for channels 1..channels and persists.  It is a no-op when the
// serial is already present.
func (s *Store) EnsureController(serial string, channels int) error {
	if _, ok := s.doc.Controllers[serial]; ok {
		return nil
	}
	chans := map[string]Channel{}
	for ch := 1; ch <= channels; ch++ {
		chans[strconv.Itoa(ch)] = Channel{}
	}
	s.doc.Controllers[serial] = Controller{Channels: chans}
	return s.Save()
}

// Configured reports whether any channel of the device has a stage
// assigned
func (s *Store) Configured(serial string) bool {
	ctl, ok := s.doc.Controllers[serial]
	if !ok {
		return false
	}
	for _, c := range ctl.Channels {
		if c.Stage != nil && *c.Stage != "" {
			return true
		}
	}
	return false
}

// LinkedChannels returns the sorted channel numbers of the device that
// belong to the named group
func (s *Store) LinkedChannels(serial, group string) []int {
	ctl, ok := s.doc.Controllers[serial]
	if !ok {
		return nil
	}
	var out []int
	for chStr, c := range ctl.Channels {
		if c.LinkedGroup == nil || *c.LinkedGroup != group {
			continue
		}
		ch, err := strconv.Atoi(chStr)
		if err != nil {
			continue
		}
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}

// ChannelRef names one channel of one device
type ChannelRef struct {
	Serial  string `json:"serial"`
	Channel int    `json:"channel"`
}

// AllLinkedGroups returns every linked group in the document with the
// channels it spans, sorted by serial then channel.  The map is recomputed
// on each call.
func (s *Store) AllLinkedGroups() map[string][]ChannelRef {
	groups := map[string][]ChannelRef{}
	for serial, ctl := range s.doc.Controllers {
		for chStr, c := range ctl.Channels {
			if c.LinkedGroup == nil || *c.LinkedGroup == "" {
				continue
			}
			ch, err := strconv.Atoi(chStr)
			if err != nil {
				continue
			}
			groups[*c.LinkedGroup] = append(groups[*c.LinkedGroup], ChannelRef{Serial: serial, Channel: ch})
		}
	}
	for _, refs := range groups {
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].Serial != refs[j].Serial {
				return refs[i].Serial < refs[j].Serial
			}
			return refs[i].Channel < refs[j].Channel
		})
	}
	return groups
}
