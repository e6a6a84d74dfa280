// Package manager ties the registry, configuration store, backend selector
// and controller sessions together.  It is the factory the presentation
// layer calls: no consumer of this module talks to a backend directly.
//
// A Manager serializes access to the configuration store; sessions it
// creates are handed to the caller and follow the concurrency rules of the
// controller package.
package manager

import (
	"fmt"
	"log"
	"sync"

	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/config"
	"github.com/bdube/stagehand/controller"
	"github.com/bdube/stagehand/registry"
)

// Manager resolves serial numbers into live controller sessions and owns
// discovery and stage auto-detection
type Manager struct {
	sel   backend.Selector
	arena *controller.Arena

	mu    sync.Mutex
	store *config.Store
}

// New creates a manager over the given selector and store
func New(sel backend.Selector, store *config.Store) *Manager {
	return &Manager{
		sel:   sel,
		arena: controller.NewArena(),
		store: store,
	}
}

// Backend reports the name of the backend that would drive operations right
// now, probing availability in priority order
func (m *Manager) Backend() (string, error) {
	b, err := m.sel.Select()
	if err != nil {
		return "", err
	}
	return b.Name(), nil
}

// resolveBackend picks the explicit backend when named, otherwise probes
func (m *Manager) resolveBackend(name string) (backend.Backend, error) {
	if name != "" && name != "auto" {
		return m.sel.Pick(name)
	}
	return m.sel.Select()
}

// CreateController builds a session for one channel of the device with the
// given serial number.  backendName may be empty or "auto" to probe.
//
// The channel's configured stage is validated against the device type; a
// mismatch is logged as a warning and creation proceeds, because a channel
// remains usable on defaults after a hardware swap invalidates a stale
// assignment.
func (m *Manager) CreateController(serial string, channel int, backendName string) (controller.Controller, error) {
	dt, ok := registry.TypeForSerial(serial)
	if !ok {
		return nil, controller.ConfigurationError{Msg: fmt.Sprintf("unknown device type for serial %s", serial)}
	}
	if channel < 1 || channel > dt.Channels {
		return nil, controller.ConfigurationError{Msg: fmt.Sprintf("%s has channels 1..%d, requested %d", dt.ID, dt.Channels, channel)}
	}
	b, err := m.resolveBackend(backendName)
	if err != nil {
		return nil, err
	}
	if sup, ok := b.(backend.TypeSupporter); ok && !sup.Supports(serial) {
		return nil, controller.ConfigurationError{Msg: fmt.Sprintf("backend %s cannot drive %s", b.Name(), dt.ID)}
	}

	stage, haveStage := m.assignedStage(serial, channel, dt)

	var ctl controller.Controller
	switch dt.Kind {
	case registry.DCServo, registry.Brushless:
		if _, ok := b.(backend.MotorOpener); !ok {
			return nil, controller.ConfigurationError{Msg: fmt.Sprintf("backend %s cannot drive %s", b.Name(), dt.ID)}
		}
		mot := controller.NewMotor(b, m.arena, serial, dt)
		if haveStage {
			mot.BindStage(stage)
		}
		ctl = mot
	case registry.Inertial:
		if _, ok := b.(backend.InertialOpener); !ok {
			return nil, controller.ConfigurationError{Msg: fmt.Sprintf("backend %s cannot drive %s", b.Name(), dt.ID)}
		}
		n := controller.NewInertial(b, m.arena, serial, channel, dt)
		if haveStage {
			n.BindStage(stage)
		}
		ctl = n
	case registry.Piezo:
		if _, ok := b.(backend.PiezoOpener); !ok {
			return nil, controller.ConfigurationError{Msg: fmt.Sprintf("backend %s cannot drive %s", b.Name(), dt.ID)}
		}
		p := controller.NewPiezo(b, m.arena, serial, dt)
		if haveStage {
			p.BindStage(stage)
		}
		ctl = p
	default:
		return nil, controller.ConfigurationError{Msg: fmt.Sprintf("device kind %s has no controller implementation", dt.Kind)}
	}
	return ctl, nil
}

// assignedStage resolves the configured stage for a channel, validating
// compatibility.  Mismatches and unknown stage IDs warn and bind anyway or
// not at all, respectively; both leave the channel usable.
func (m *Manager) assignedStage(serial string, channel int, dt registry.DeviceType) (registry.Stage, bool) {
	m.mu.Lock()
	ch, ok := m.store.Channel(serial, channel)
	m.mu.Unlock()
	if !ok || ch.Stage == nil {
		return registry.Stage{}, false
	}
	stageID := *ch.Stage
	stage, known := registry.StageByID(stageID)
	if !known {
		log.Printf("warning: %s channel %d is assigned unknown stage %s, using defaults", serial, channel, stageID)
		return registry.Stage{}, false
	}
	if ok, msg := registry.Validate(stageID, dt.ID); !ok {
		log.Printf("warning: %s channel %d: %s", serial, channel, msg)
	}
	return stage, true
}

// DeviceSummary is one discovered device.  It is deliberately lightweight:
// producing it never opens a session.
type DeviceSummary struct {
	Serial      string        `json:"serial"`
	Type        string        `json:"type"`
	Kind        registry.Kind `json:"kind"`
	Channels    int           `json:"channels"`
	Description string        `json:"description"`

	// Configured is true when any channel of the device has an assigned
	// stage in the configuration store
	Configured bool `json:"configured"`
}

// ListDevices enumerates attached devices under the active backend.  Serials
// with unrecognized prefixes are skipped silently.  Devices seen for the
// first time are registered in the store with empty channel tuples.
func (m *Manager) ListDevices() ([]DeviceSummary, error) {
	b, err := m.sel.Select()
	if err != nil {
		return nil, err
	}
	serials, err := b.Enumerate()
	if err != nil {
		return nil, controller.ConnectionError{Serial: "enumeration", Err: err}
	}
	out := []DeviceSummary{}
	for _, serial := range serials {
		dt, ok := registry.TypeForSerial(serial)
		if !ok {
			continue
		}
		m.mu.Lock()
		if err := m.store.EnsureController(serial, dt.Channels); err != nil {
			log.Printf("warning: could not register %s in the configuration store: %v", serial, err)
		}
		configured := m.store.Configured(serial)
		m.mu.Unlock()
		out = append(out, DeviceSummary{
			Serial:      serial,
			Type:        dt.ID,
			Kind:        dt.Kind,
			Channels:    dt.Channels,
			Description: dt.Description,
			Configured:  configured,
		})
	}
	return out, nil
}

// StageReport is a DeviceSummary augmented with the stage identity the
// device reports from its own memory, when it can
type StageReport struct {
	DeviceSummary

	// ReportedStage is the free text stage name from the device, empty
	// when the device cannot report one or the query failed
	ReportedStage string `json:"reported_stage"`

	// MatchedStage is the registry stage ID the reported name resolved
	// to, empty when no match was found
	MatchedStage string `json:"matched_stage"`
}

// ListDevicesWithStages is ListDevices plus a bounded connect, stage
// identity query, and disconnect for each device type that stores a stage
// definition (servo and brushless).  It is strictly slower than ListDevices
// and best-effort: one device's failure does not abort the rest.
//
// When a queried name matches a known stage and the channel has no assigned
// stage, the match is persisted.
func (m *Manager) ListDevicesWithStages() ([]StageReport, error) {
	summaries, err := m.ListDevices()
	if err != nil {
		return nil, err
	}
	b, err := m.sel.Select()
	if err != nil {
		return nil, err
	}
	opener, canOpen := b.(backend.MotorOpener)
	out := make([]StageReport, 0, len(summaries))
	for _, summary := range summaries {
		report := StageReport{DeviceSummary: summary}
		if canOpen && (summary.Kind == registry.DCServo || summary.Kind == registry.Brushless) {
			name, err := readStageName(opener, summary.Serial)
			if err != nil {
				log.Printf("warning: stage detection on %s failed: %v", summary.Serial, err)
			} else if name != "" {
				report.ReportedStage = name
				id, persisted := m.AutoDetectStage(summary.Serial, 1, name)
				report.MatchedStage = id
				if persisted {
					report.Configured = true
				}
			}
		}
		out = append(out, report)
	}
	return out, nil
}

// readStageName performs the bounded connect-query-disconnect round trip
func readStageName(opener backend.MotorOpener, serial string) (string, error) {
	dev, err := opener.OpenMotor(serial)
	if err != nil {
		return "", err
	}
	defer dev.Close()
	ident, ok := dev.(backend.StageIdentifier)
	if !ok {
		return "", nil
	}
	return ident.StageName()
}

// AutoDetectStage matches a backend-reported stage name against the
// registry.  On a match, the assignment is persisted only when the channel
// currently has none; an existing assignment is never overwritten and the
// result is informational.  The returned bool reports whether the match was
// persisted.
func (m *Manager) AutoDetectStage(serial string, channel int, reported string) (string, bool) {
	id, ok := registry.MatchStageName(reported)
	if !ok {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, _ := m.store.Channel(serial, channel)
	if ch.Stage != nil {
		return id, false
	}
	ch.Stage = &id
	if err := m.store.SetChannel(serial, channel, ch); err != nil {
		log.Printf("warning: could not persist detected stage %s for %s channel %d: %v", id, serial, channel, err)
		return id, false
	}
	return id, true
}

// DetectStage runs the connect-query-disconnect round trip for one device
// and feeds the result through AutoDetectStage.  It returns the matched
// stage ID and whether the match was persisted.
func (m *Manager) DetectStage(serial string, channel int) (string, bool, error) {
	dt, ok := registry.TypeForSerial(serial)
	if !ok {
		return "", false, controller.ConfigurationError{Msg: fmt.Sprintf("unknown device type for serial %s", serial)}
	}
	if dt.Kind != registry.DCServo && dt.Kind != registry.Brushless {
		return "", false, controller.ErrUnsupported{Kind: dt.ID, Op: "stage detection"}
	}
	b, err := m.sel.Select()
	if err != nil {
		return "", false, err
	}
	opener, ok := b.(backend.MotorOpener)
	if !ok {
		return "", false, controller.ConfigurationError{Msg: fmt.Sprintf("backend %s cannot drive %s", b.Name(), dt.ID)}
	}
	name, err := readStageName(opener, serial)
	if err != nil {
		return "", false, controller.CommunicationError{Serial: serial, Op: "stage detection", Err: err}
	}
	id, persisted := m.AutoDetectStage(serial, channel, name)
	return id, persisted, nil
}

// SetChannel writes a channel's assignment tuple wholesale.  Partial
// updates are the caller's responsibility: read the tuple, modify it, and
// write it back.
func (m *Manager) SetChannel(serial string, channel int, ch config.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.SetChannel(serial, channel, ch)
}

// Channel reads a channel's assignment tuple
func (m *Manager) Channel(serial string, channel int) (config.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Channel(serial, channel)
}

// Document returns a copy of the persisted configuration document
func (m *Manager) Document() config.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Document()
}

// LinkedChannels returns the channels of serial belonging to a link group
func (m *Manager) LinkedChannels(serial, group string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.LinkedChannels(serial, group)
}

// AllLinkedGroups returns every link group and its member channels
func (m *Manager) AllLinkedGroups() map[string][]config.ChannelRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.AllLinkedGroups()
}
