// Package motion provides an HTTP interface to controller sessions.
//
// A session exposes its lifecycle and whatever capabilities its kind
// supports; this package probes for each capability with an interface
// assertion and binds routes only for the ones present, so the same
// wrapper serves servo, inertial, and piezo sessions.
package motion

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"
	"time"

	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/controller"
	"github.com/bdube/stagehand/generichttp"
	"github.com/bdube/stagehand/server"
	"github.com/bdube/stagehand/util"

	"goji.io/pat"
)

// Enabler describes a session whose axis can be energized and de-energized
type Enabler interface {
	// Enable energizes the axis
	Enable() error

	// Disable de-energizes the axis
	Disable() error

	// GetEnabled reports whether the axis is energized
	GetEnabled() (bool, error)
}

// Speeder describes a session with a velocity setpoint
type Speeder interface {
	// SetVelocity sets the velocity setpoint
	SetVelocity(float64) error

	// GetVelocity returns the velocity setpoint
	GetVelocity() (float64, error)
}

// Accelerator describes a session with an acceleration setpoint
type Accelerator interface {
	// SetAcceleration sets the acceleration setpoint
	SetAcceleration(float64) error

	// GetAcceleration returns the acceleration setpoint
	GetAcceleration() (float64, error)
}

// Voltager describes a session with a voltage setpoint
type Voltager interface {
	// SetVoltage sets the output voltage
	SetVoltage(float64) error

	// GetVoltage returns the output voltage
	GetVoltage() (float64, error)
}

// ControlModer describes a session that can switch between open and closed
// loop operation
type ControlModer interface {
	// SetControlMode selects closed loop (true) or open loop (false)
	SetControlMode(bool) error

	// GetControlMode reports whether the session is in closed loop
	GetControlMode() (bool, error)
}

// Zeroer describes a session whose output can be zeroed
type Zeroer interface {
	// Zero drives the output to zero
	Zero() error
}

// Jogger describes a motor session that jogs by the stage's jog increment
type Jogger interface {
	// Jog moves one jog increment in direction +1 or -1
	Jog(direction int, wait bool, timeout time.Duration) error
}

// StepJogger describes an inertial session that jogs by step count
type StepJogger interface {
	// Jog moves steps steps in direction +1 or -1
	Jog(direction, steps int, wait bool, timeout time.Duration) error
}

// LimitSeeker describes an inertial session that can drive into a hardware
// limit to establish a reference.  This is distinct from homing, which
// inertial hardware does not support.
type LimitSeeker interface {
	// MoveToLimit drives toward the limit in direction +1 or -1
	MoveToLimit(direction int, wait bool, timeout time.Duration) error
}

// Counter describes an inertial session's step counter
type Counter interface {
	// StepCount returns the accumulated step count
	StepCount() (int, error)

	// ZeroPosition declares the current position to be zero
	ZeroPosition() error
}

// DriveParamer describes an inertial session's open loop drive settings
type DriveParamer interface {
	// DriveParams returns the drive rate, acceleration and amplitude
	DriveParams() (backend.DriveParams, error)

	// SetDriveParams replaces the drive rate, acceleration and amplitude
	SetDriveParams(backend.DriveParams) error
}

// motorStatuser, inertialStatuser, piezoStatuser pick up the kind-specific
// composite status each concrete session type exposes
type motorStatuser interface {
	GetStatus() controller.MotorStatus
}

type inertialStatuser interface {
	GetStatus() controller.InertialStatus
}

type piezoStatuser interface {
	GetStatus() controller.PiezoStatus
}

type homedReporter interface {
	IsHomed() bool
}

// waitTimeout extracts the wait and timeout query parameters from a motion
// request.  Motion blocks by default; wait=false returns after dispatch,
// timeout is in seconds.
func waitTimeout(r *http.Request) (bool, time.Duration) {
	wait := true
	if v := r.URL.Query().Get("wait"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			wait = b
		}
	}
	timeout := controller.DefaultTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			timeout = util.SecsToDuration(f)
		}
	}
	return wait, timeout
}

// motionErrCode maps a motion failure to an HTTP status.  Inapplicable
// operations are the client's mistake, everything else is the device's.
func motionErrCode(err error) int {
	if controller.IsUnsupported(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// HTTPController wraps one controller session in a route table
type HTTPController struct {
	// C is the wrapped session
	C controller.Controller

	rt server.RouteTable
}

// NewHTTPController returns a wrapper with routes bound for every
// capability the session supports
func NewHTTPController(c controller.Controller) *HTTPController {
	h := &HTTPController{C: c, rt: server.RouteTable{}}
	rt := h.rt

	rt[pat.Get("/pos")] = h.getPos
	rt[pat.Post("/pos")] = h.setPos
	rt[pat.Get("/state")] = h.getState
	rt[pat.Get("/status")] = h.getStatus
	rt[pat.Get("/device-type")] = h.getDeviceType
	rt[pat.Get("/stage")] = h.getStage
	rt[pat.Post("/connect")] = h.connect
	rt[pat.Post("/disconnect")] = h.disconnect
	rt[pat.Post("/home")] = h.home
	rt[pat.Post("/stop")] = h.stop
	rt[pat.Post("/identify")] = h.identify

	if enabler, ok := c.(Enabler); ok {
		rt[pat.Get("/enabled")] = generichttp.GetBool(enabler.GetEnabled)
		rt[pat.Post("/enabled")] = setEnabled(enabler)
	}
	if speeder, ok := c.(Speeder); ok {
		rt[pat.Get("/velocity")] = generichttp.GetFloat(speeder.GetVelocity)
		rt[pat.Post("/velocity")] = generichttp.SetFloat(speeder.SetVelocity)
	}
	if acc, ok := c.(Accelerator); ok {
		rt[pat.Get("/acceleration")] = generichttp.GetFloat(acc.GetAcceleration)
		rt[pat.Post("/acceleration")] = generichttp.SetFloat(acc.SetAcceleration)
	}
	if voltager, ok := c.(Voltager); ok {
		rt[pat.Get("/voltage")] = generichttp.GetFloat(voltager.GetVoltage)
		rt[pat.Post("/voltage")] = generichttp.SetFloat(voltager.SetVoltage)
	}
	if moder, ok := c.(ControlModer); ok {
		rt[pat.Get("/control-mode")] = generichttp.GetBool(moder.GetControlMode)
		rt[pat.Post("/control-mode")] = generichttp.SetBool(moder.SetControlMode)
	}
	if zeroer, ok := c.(Zeroer); ok {
		rt[pat.Post("/zero")] = func(w http.ResponseWriter, r *http.Request) {
			if err := zeroer.Zero(); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}
	if jogger, ok := c.(Jogger); ok {
		rt[pat.Post("/jog")] = jogHandler(jogger)
	} else if stepper, ok := c.(StepJogger); ok {
		rt[pat.Post("/jog")] = stepJogHandler(stepper)
	}
	if seeker, ok := c.(LimitSeeker); ok {
		rt[pat.Post("/move-to-limit")] = limitHandler(seeker)
	}
	if counter, ok := c.(Counter); ok {
		rt[pat.Get("/step-count")] = generichttp.GetInt(counter.StepCount)
		rt[pat.Post("/zero-count")] = func(w http.ResponseWriter, r *http.Request) {
			if err := counter.ZeroPosition(); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}
	if driver, ok := c.(DriveParamer); ok {
		rt[pat.Get("/drive-params")] = getDriveParams(driver)
		rt[pat.Post("/drive-params")] = setDriveParams(driver)
	}
	if homed, ok := c.(homedReporter); ok {
		rt[pat.Get("/homed")] = func(w http.ResponseWriter, r *http.Request) {
			hp := server.HumanPayload{T: types.Bool, Bool: homed.IsHomed()}
			hp.EncodeAndRespond(w, r)
		}
	}
	return h
}

// RT satisfies server.HTTPer
func (h *HTTPController) RT() server.RouteTable {
	return h.rt
}

func (h *HTTPController) getPos(w http.ResponseWriter, r *http.Request) {
	pos, err := h.C.GetPos()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: pos}
	hp.EncodeAndRespond(w, r)
}

// setPos moves the axis.  The body is {"f64": value}; the query parameter
// relative=true makes the motion relative, wait and timeout as elsewhere.
func (h *HTTPController) setPos(w http.ResponseWriter, r *http.Request) {
	f := server.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	wait, timeout := waitTimeout(r)
	relative := false
	if v := r.URL.Query().Get("relative"); v != "" {
		relative, _ = strconv.ParseBool(v)
	}
	if relative {
		err = h.C.MoveRel(f.F64, wait, timeout)
	} else {
		err = h.C.MoveAbs(f.F64, wait, timeout)
	}
	if err != nil {
		http.Error(w, err.Error(), motionErrCode(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPController) getState(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.C.State().String()}
	hp.EncodeAndRespond(w, r)
}

// getStatus serves the kind-specific composite status.  Every kind includes
// a connected flag and its primary measured quantity.
func (h *HTTPController) getStatus(w http.ResponseWriter, r *http.Request) {
	var status interface{}
	switch s := h.C.(type) {
	case motorStatuser:
		status = s.GetStatus()
	case inertialStatuser:
		status = s.GetStatus()
	case piezoStatuser:
		status = s.GetStatus()
	default:
		http.Error(w, "session has no status surface", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *HTTPController) getDeviceType(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.C.DeviceType()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *HTTPController) getStage(w http.ResponseWriter, r *http.Request) {
	stage, ok := h.C.Stage()
	if !ok {
		http.Error(w, "no stage bound to this channel", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stage); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *HTTPController) connect(w http.ResponseWriter, r *http.Request) {
	if err := h.C.Connect(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPController) disconnect(w http.ResponseWriter, r *http.Request) {
	h.C.Disconnect()
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPController) home(w http.ResponseWriter, r *http.Request) {
	wait, timeout := waitTimeout(r)
	if err := h.C.Home(wait, timeout); err != nil {
		http.Error(w, err.Error(), motionErrCode(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPController) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.C.Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPController) identify(w http.ResponseWriter, r *http.Request) {
	if err := h.C.Identify(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func setEnabled(e Enabler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := server.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if b.Bool {
			err = e.Enable()
		} else {
			err = e.Disable()
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// jogHandler jogs a motor one increment; the body is {"int": direction}
func jogHandler(j Jogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := server.IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		wait, timeout := waitTimeout(r)
		if err := j.Jog(i.Int, wait, timeout); err != nil {
			http.Error(w, err.Error(), motionErrCode(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// stepJogHandler jogs an inertial channel; the body is {"int": steps},
// where the sign of steps is the direction
func stepJogHandler(j StepJogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := server.IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		direction := 1
		steps := i.Int
		if steps < 0 {
			direction = -1
			steps = -steps
		}
		wait, timeout := waitTimeout(r)
		if err := j.Jog(direction, steps, wait, timeout); err != nil {
			http.Error(w, err.Error(), motionErrCode(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func limitHandler(s LimitSeeker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := server.IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		wait, timeout := waitTimeout(r)
		if err := s.MoveToLimit(i.Int, wait, timeout); err != nil {
			http.Error(w, err.Error(), motionErrCode(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func getDriveParams(d DriveParamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := d.DriveParams()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func setDriveParams(d DriveParamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := backend.DriveParams{}
		err := json.NewDecoder(r.Body).Decode(&p)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := d.SetDriveParams(p); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
