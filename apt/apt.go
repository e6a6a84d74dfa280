// Package apt adapts the vendor's legacy command runtime to the backend
// boundary.  The runtime is reached through its serial bridge on a single
// port, speaking CRC framed binary telegrams.  Coverage is narrower than
// the primary runtime: dc servo and piezo families only, no brushless or
// inertial devices, and no stage definitions in device EEPROM.
package apt

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/comm"

	"github.com/tarm/serial"
)

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

const (
	verbCountUnits    = 0x01
	verbSerialByIndex = 0x02
	verbOpen          = 0x10
	verbClose         = 0x11
	verbIdentify      = 0x12
	verbHome          = 0x20
	verbMoveAbs       = 0x21
	verbMoveRel       = 0x22
	verbStop          = 0x23
	verbGetPos        = 0x24
	verbGetVel        = 0x25
	verbSetVel        = 0x26
	verbEnable        = 0x27
	verbDisable       = 0x28
	verbStatus        = 0x29
	verbGetAccel      = 0x2a
	verbSetAccel      = 0x2b
	verbSetVoltage    = 0x30
	verbGetVoltage    = 0x31
	verbMaxVoltage    = 0x32
	verbSetPosOut     = 0x33
	verbGetPosOut     = 0x34
	verbSetLoop       = 0x35
	verbGetLoop       = 0x36
	verbZeroOut       = 0x37
	verbPZStatus      = 0x38
)

var verbNames = map[byte]string{
	verbCountUnits:    "count units",
	verbSerialByIndex: "serial by index",
	verbOpen:          "open",
	verbClose:         "close",
	verbIdentify:      "identify",
	verbHome:          "home",
	verbMoveAbs:       "move absolute",
	verbMoveRel:       "move relative",
	verbStop:          "stop",
	verbGetPos:        "get position",
	verbGetVel:        "get velocity",
	verbSetVel:        "set velocity",
	verbEnable:        "enable",
	verbDisable:       "disable",
	verbStatus:        "status",
	verbGetAccel:      "get acceleration",
	verbSetAccel:      "set acceleration",
	verbSetVoltage:    "set voltage",
	verbGetVoltage:    "get voltage",
	verbMaxVoltage:    "max voltage",
	verbSetPosOut:     "set position output",
	verbGetPosOut:     "get position output",
	verbSetLoop:       "set loop mode",
	verbGetLoop:       "get loop mode",
	verbZeroOut:       "zero output",
	verbPZStatus:      "piezo status",
}

func verbName(v byte) string {
	if s, ok := verbNames[v]; ok {
		return s
	}
	return fmt.Sprintf("verb %#02x", v)
}

var statusCodes = map[byte]string{
	1: "hardware unit not found",
	2: "device not initialized",
	3: "parameter out of range",
	4: "command not valid for this hardware type",
	5: "hardware fault",
	6: "communication with device timed out",
}

// Error is a nonzero status byte in a reply from the hub
type Error struct {
	Op   string
	Code byte
}

func (e Error) Error() string {
	msg, ok := statusCodes[e.Code]
	if !ok {
		msg = "unrecognized status code"
	}
	return fmt.Sprintf("%s: %d - %s", e.Op, e.Code, msg)
}

// legacy hardware type codes, keyed by the serial number prefix that
// identifies the device family
var (
	motorHWTypes = map[string]byte{
		"27": 42, // KDC101
		"83": 27, // TDC001
	}

	piezoHWTypes = map[string]byte{
		"29": 29, // KPZ101
		"81": 81, // TPZ001
	}

	// hwTypeSweep is the enumeration order over hardware types, motors
	// before piezos
	hwTypeSweep = []byte{42, 27, 29, 81}
)

// status word bits, shared across the vendor's device families
const (
	bitFwdLimit  = 0x00000001
	bitRevLimit  = 0x00000002
	bitMovingFwd = 0x00000010
	bitMovingRev = 0x00000020
	bitJogFwd    = 0x00000040
	bitJogRev    = 0x00000080
	bitHoming    = 0x00000200
	bitHomed     = 0x00000400
	bitEnabled   = 0x80000000

	bitAnyMotion = bitMovingFwd | bitMovingRev | bitJogFwd | bitJogRev | bitHoming
)

// Hub is the legacy backend.  It speaks to the runtime's bridge over one
// serial port for every device the runtime owns; exchanges are serialized,
// so commands from concurrent sessions interleave at frame boundaries.
type Hub struct {
	comm.RemoteDevice
	mu sync.Mutex
	br *bufio.Reader
}

// NewHub returns a hub bound to the bridge's serial port, e.g. /dev/ttyUSB0
// or COM3.  The port is opened lazily on the first exchange.
func NewHub(addr string) *Hub {
	rd := comm.NewRemoteDevice(addr, true)
	rd.SerialCfg = makeSerConf(addr)
	return &Hub{RemoteDevice: rd}
}

// Name implements backend.Backend
func (h *Hub) Name() string { return "apt" }

// Available reports whether any device from the vendor is on the USB bus.
// The runtime itself cannot be probed without claiming devices, so bus
// presence stands in for it.
func (h *Hub) Available() bool { return usbPresent() }

// drop tears the link down so the next exchange reopens it
func (h *Hub) drop() {
	h.Close()
	h.br = nil
}

func (h *Hub) exchange(req Telegram) (Telegram, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Conn == nil {
		if err := h.Open(); err != nil {
			return Telegram{}, err
		}
		h.br = nil
	}
	if h.br == nil {
		h.br = bufio.NewReader(h.Conn)
	}
	if _, err := h.Conn.Write(MakeTelegram(req)); err != nil {
		h.drop()
		return Telegram{}, err
	}
	raw, err := h.br.ReadBytes(telEnd)
	if err != nil {
		h.drop()
		return Telegram{}, err
	}
	resp, err := DecodeTelegram(raw)
	if err != nil {
		h.drop()
		return Telegram{}, err
	}
	if resp.Status != 0 {
		return Telegram{}, Error{Op: verbName(req.Verb), Code: resp.Status}
	}
	return resp, nil
}

func (h *Hub) command(verb byte, serial uint32, data []byte) error {
	_, err := h.exchange(Telegram{Verb: verb, Serial: serial, Data: data})
	return err
}

func (h *Hub) queryFloat(verb byte, serial uint32) (float64, error) {
	resp, err := h.exchange(Telegram{Verb: verb, Serial: serial})
	if err != nil {
		return 0, err
	}
	if len(resp.Data) != 8 {
		return 0, fmt.Errorf("%s: reply has %d data bytes, want 8", verbName(verb), len(resp.Data))
	}
	return math.Float64frombits(dataOrder.Uint64(resp.Data)), nil
}

func f64Bytes(f float64) []byte {
	b := make([]byte, 8)
	dataOrder.PutUint64(b, math.Float64bits(f))
	return b
}

// Enumerate sweeps every hardware type the runtime knows and collects the
// serial numbers it reports
func (h *Hub) Enumerate() ([]string, error) {
	out := []string{}
	for _, hw := range hwTypeSweep {
		resp, err := h.exchange(Telegram{Verb: verbCountUnits, Data: []byte{hw}})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != 1 {
			return nil, fmt.Errorf("count units: reply has %d data bytes, want 1", len(resp.Data))
		}
		for i := 0; i < int(resp.Data[0]); i++ {
			resp, err := h.exchange(Telegram{Verb: verbSerialByIndex, Data: []byte{hw, byte(i)}})
			if err != nil {
				return nil, err
			}
			if len(resp.Data) != 4 {
				return nil, fmt.Errorf("serial by index: reply has %d data bytes, want 4", len(resp.Data))
			}
			out = append(out, strconv.FormatUint(uint64(dataOrder.Uint32(resp.Data)), 10))
		}
	}
	return out, nil
}

func prefix(serial string) string {
	if len(serial) < 2 {
		return ""
	}
	return serial[:2]
}

func serialWord(serial string) (uint32, error) {
	v, err := strconv.ParseUint(serial, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("serial %q is not a device serial number", serial)
	}
	return uint32(v), nil
}

// Supports reports whether the legacy command set has a hardware type for
// the family the serial prefix identifies.  The brushless and inertial
// families have no legacy codes and require the primary backend.
func (h *Hub) Supports(serial string) bool {
	p := prefix(serial)
	if _, ok := motorHWTypes[p]; ok {
		return true
	}
	_, ok := piezoHWTypes[p]
	return ok
}

// OpenMotor opens a dc servo device.  The brushless and inertial families
// are not served by this backend.
func (h *Hub) OpenMotor(serial string) (backend.Motor, error) {
	hw, ok := motorHWTypes[prefix(serial)]
	if !ok {
		return nil, fmt.Errorf("no legacy motor hardware type for serial %s", serial)
	}
	word, err := serialWord(serial)
	if err != nil {
		return nil, err
	}
	if err := h.command(verbOpen, word, []byte{hw}); err != nil {
		return nil, err
	}
	return &aptMotor{h: h, serial: word}, nil
}

// OpenPiezo opens a piezo amplifier device
func (h *Hub) OpenPiezo(serial string) (backend.Piezo, error) {
	hw, ok := piezoHWTypes[prefix(serial)]
	if !ok {
		return nil, fmt.Errorf("no legacy piezo hardware type for serial %s", serial)
	}
	word, err := serialWord(serial)
	if err != nil {
		return nil, err
	}
	if err := h.command(verbOpen, word, []byte{hw}); err != nil {
		return nil, err
	}
	return &aptPiezo{h: h, serial: word}, nil
}

type aptMotor struct {
	h      *Hub
	serial uint32
}

func (m *aptMotor) Home() error { return m.h.command(verbHome, m.serial, nil) }

func (m *aptMotor) MoveAbs(pos float64) error {
	return m.h.command(verbMoveAbs, m.serial, f64Bytes(pos))
}

func (m *aptMotor) MoveRel(dist float64) error {
	return m.h.command(verbMoveRel, m.serial, f64Bytes(dist))
}

func (m *aptMotor) Stop() error { return m.h.command(verbStop, m.serial, nil) }

func (m *aptMotor) GetPos() (float64, error) { return m.h.queryFloat(verbGetPos, m.serial) }

func (m *aptMotor) GetVelocity() (float64, error) { return m.h.queryFloat(verbGetVel, m.serial) }

func (m *aptMotor) SetVelocity(v float64) error {
	return m.h.command(verbSetVel, m.serial, f64Bytes(v))
}

func (m *aptMotor) GetAcceleration() (float64, error) {
	return m.h.queryFloat(verbGetAccel, m.serial)
}

func (m *aptMotor) SetAcceleration(a float64) error {
	return m.h.command(verbSetAccel, m.serial, f64Bytes(a))
}

func (m *aptMotor) Enable() error { return m.h.command(verbEnable, m.serial, nil) }

func (m *aptMotor) Disable() error { return m.h.command(verbDisable, m.serial, nil) }

func (m *aptMotor) Identify() error { return m.h.command(verbIdentify, m.serial, nil) }

// Status reads the composite status reply, position and velocity floats
// followed by the status word
func (m *aptMotor) Status() (backend.MotorStatus, error) {
	resp, err := m.h.exchange(Telegram{Verb: verbStatus, Serial: m.serial})
	if err != nil {
		return backend.MotorStatus{}, err
	}
	if len(resp.Data) != 20 {
		return backend.MotorStatus{}, fmt.Errorf("status: reply has %d data bytes, want 20", len(resp.Data))
	}
	bits := dataOrder.Uint32(resp.Data[16:20])
	return backend.MotorStatus{
		Position: math.Float64frombits(dataOrder.Uint64(resp.Data[0:8])),
		Velocity: math.Float64frombits(dataOrder.Uint64(resp.Data[8:16])),
		Moving:   bits&bitAnyMotion != 0,
		Homing:   bits&bitHoming != 0,
		Homed:    bits&bitHomed != 0,
		Enabled:  bits&bitEnabled != 0,
		FwdLimit: bits&bitFwdLimit != 0,
		RevLimit: bits&bitRevLimit != 0,
	}, nil
}

func (m *aptMotor) Close() error { return m.h.command(verbClose, m.serial, nil) }

type aptPiezo struct {
	h      *Hub
	serial uint32
}

func (p *aptPiezo) SetVoltage(v float64) error {
	return p.h.command(verbSetVoltage, p.serial, f64Bytes(v))
}

func (p *aptPiezo) GetVoltage() (float64, error) { return p.h.queryFloat(verbGetVoltage, p.serial) }

func (p *aptPiezo) MaxVoltage() (float64, error) { return p.h.queryFloat(verbMaxVoltage, p.serial) }

func (p *aptPiezo) SetPosition(pos float64) error {
	return p.h.command(verbSetPosOut, p.serial, f64Bytes(pos))
}

func (p *aptPiezo) GetPosition() (float64, error) { return p.h.queryFloat(verbGetPosOut, p.serial) }

func (p *aptPiezo) SetClosedLoop(on bool) error {
	mode := byte(0)
	if on {
		mode = 1
	}
	return p.h.command(verbSetLoop, p.serial, []byte{mode})
}

func (p *aptPiezo) GetClosedLoop() (bool, error) {
	resp, err := p.h.exchange(Telegram{Verb: verbGetLoop, Serial: p.serial})
	if err != nil {
		return false, err
	}
	if len(resp.Data) != 1 {
		return false, fmt.Errorf("get loop mode: reply has %d data bytes, want 1", len(resp.Data))
	}
	return resp.Data[0] == 1, nil
}

func (p *aptPiezo) Zero() error { return p.h.command(verbZeroOut, p.serial, nil) }

func (p *aptPiezo) Enable() error { return p.h.command(verbEnable, p.serial, nil) }

func (p *aptPiezo) Disable() error { return p.h.command(verbDisable, p.serial, nil) }

func (p *aptPiezo) Identify() error { return p.h.command(verbIdentify, p.serial, nil) }

// Status reads the composite piezo status reply, voltage and position
// floats followed by a flags byte, bit 0 closed loop and bit 1 enabled
func (p *aptPiezo) Status() (backend.PiezoStatus, error) {
	resp, err := p.h.exchange(Telegram{Verb: verbPZStatus, Serial: p.serial})
	if err != nil {
		return backend.PiezoStatus{}, err
	}
	if len(resp.Data) != 17 {
		return backend.PiezoStatus{}, fmt.Errorf("piezo status: reply has %d data bytes, want 17", len(resp.Data))
	}
	return backend.PiezoStatus{
		Voltage:    math.Float64frombits(dataOrder.Uint64(resp.Data[0:8])),
		Position:   math.Float64frombits(dataOrder.Uint64(resp.Data[8:16])),
		ClosedLoop: resp.Data[16]&0x01 != 0,
		Enabled:    resp.Data[16]&0x02 != 0,
	}, nil
}

func (p *aptPiezo) Close() error { return p.h.command(verbClose, p.serial, nil) }
