package manager

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"

	"github.com/bdube/stagehand/config"
	"github.com/bdube/stagehand/registry"
	"github.com/bdube/stagehand/server"

	"goji.io/pat"
)

// HTTPManager exposes discovery and configuration over HTTP.  Sessions get
// their own wrappers (generichttp/motion); this surface covers everything
// that is not tied to one live session.
type HTTPManager struct {
	// M is the wrapped manager
	M *Manager

	rt server.RouteTable
}

// NewHTTPManager wraps a manager in a route table
func NewHTTPManager(m *Manager) *HTTPManager {
	h := &HTTPManager{M: m, rt: server.RouteTable{}}
	rt := h.rt
	rt[pat.Get("/devices")] = h.listDevices
	rt[pat.Get("/devices/stages")] = h.listDevicesWithStages
	rt[pat.Get("/backend")] = h.getBackend
	rt[pat.Get("/types")] = h.listTypes
	rt[pat.Get("/stages")] = h.listStages
	rt[pat.Get("/stages/compatible/:type")] = h.compatibleStages
	rt[pat.Get("/config")] = h.getDocument
	rt[pat.Get("/config/:serial/:channel")] = h.getChannel
	rt[pat.Post("/config/:serial/:channel")] = h.setChannel
	rt[pat.Post("/config/:serial/:channel/detect")] = h.detectStage
	rt[pat.Get("/groups")] = h.listGroups
	return h
}

// RT satisfies server.HTTPer
func (h *HTTPManager) RT() server.RouteTable {
	return h.rt
}

func encodeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *HTTPManager) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.M.ListDevices()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	encodeJSON(w, devices)
}

func (h *HTTPManager) listDevicesWithStages(w http.ResponseWriter, r *http.Request) {
	devices, err := h.M.ListDevicesWithStages()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	encodeJSON(w, devices)
}

func (h *HTTPManager) getBackend(w http.ResponseWriter, r *http.Request) {
	name, err := h.M.Backend()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	hp := server.HumanPayload{T: types.String, String: name}
	hp.EncodeAndRespond(w, r)
}

func (h *HTTPManager) listTypes(w http.ResponseWriter, r *http.Request) {
	encodeJSON(w, registry.Types())
}

func (h *HTTPManager) listStages(w http.ResponseWriter, r *http.Request) {
	encodeJSON(w, registry.Stages())
}

func (h *HTTPManager) compatibleStages(w http.ResponseWriter, r *http.Request) {
	typeID := pat.Param(r, "type")
	if _, ok := registry.TypeByID(typeID); !ok {
		http.Error(w, "unknown device type "+typeID, http.StatusNotFound)
		return
	}
	encodeJSON(w, registry.CompatibleStages(typeID))
}

func (h *HTTPManager) getDocument(w http.ResponseWriter, r *http.Request) {
	encodeJSON(w, h.M.Document())
}

// channelParams pulls the serial and channel URL parameters
func channelParams(r *http.Request) (string, int, error) {
	serial := pat.Param(r, "serial")
	channel, err := strconv.Atoi(pat.Param(r, "channel"))
	return serial, channel, err
}

func (h *HTTPManager) getChannel(w http.ResponseWriter, r *http.Request) {
	serial, channel, err := channelParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ch, ok := h.M.Channel(serial, channel)
	if !ok {
		http.Error(w, "no configuration for this channel", http.StatusNotFound)
		return
	}
	encodeJSON(w, ch)
}

func (h *HTTPManager) setChannel(w http.ResponseWriter, r *http.Request) {
	serial, channel, err := channelParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ch := config.Channel{}
	err = json.NewDecoder(r.Body).Decode(&ch)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ch.Stage != nil {
		if dt, ok := registry.TypeForSerial(serial); ok {
			if compatible, msg := registry.Validate(*ch.Stage, dt.ID); !compatible {
				// warning only, the assignment proceeds
				w.Header().Set("X-Stage-Warning", msg)
			}
		}
	}
	if err := h.M.SetChannel(serial, channel, ch); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPManager) detectStage(w http.ResponseWriter, r *http.Request) {
	serial, channel, err := channelParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, persisted, err := h.M.DetectStage(serial, channel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	encodeJSON(w, struct {
		Stage     string `json:"stage"`
		Persisted bool   `json:"persisted"`
	}{Stage: id, Persisted: persisted})
}

func (h *HTTPManager) listGroups(w http.ResponseWriter, r *http.Request) {
	encodeJSON(w, h.M.AllLinkedGroups())
}
