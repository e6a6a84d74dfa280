// Package kinesis adapts the vendor's primary driver runtime to the backend
// boundary.  The runtime is reached through its device gateway, a local
// service that owns the USB devices and speaks a line protocol over TCP.
// This package holds one pooled connection to the gateway and issues one
// command per exchange, so device commands from concurrent sessions
// serialize at the wire.
package kinesis

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/comm"
)

const (
	// DefaultAddr is where the gateway listens when installed with stock
	// settings
	DefaultAddr = "127.0.0.1:9750"

	// RxTerm and TxTerm terminate lines in each direction
	RxTerm = '\n'
	TxTerm = '\n'
)

// Error is a numeric failure reply from the gateway
type Error struct {
	Cmd  string
	Code int
}

func (e Error) Error() string {
	msg, ok := errorCodes[e.Code]
	if !ok {
		msg = "unrecognized error code"
	}
	return fmt.Sprintf("%s: %d - %s", e.Cmd, e.Code, msg)
}

var errorCodes = map[int]string{
	1: "device not found",
	2: "device not opened",
	3: "device already in use by another client",
	4: "command not valid for this device type",
	5: "parameter out of range",
	6: "channel out of range",
	7: "device failed to initialize",
	8: "communication with device timed out",
	9: "device reported a hardware fault",
}

// Kinesis is the primary backend.  All devices share the gateway
// connection held in the pool.
type Kinesis struct {
	pool *comm.Pool
	addr string
}

// New returns a backend speaking to the gateway at addr, or DefaultAddr
// when addr is empty
func New(addr string) *Kinesis {
	if addr == "" {
		addr = DefaultAddr
	}
	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	p := comm.NewPool(1, time.Minute, maker)
	return &Kinesis{pool: p, addr: addr}
}

// Name implements backend.Backend
func (k *Kinesis) Name() string { return "kinesis" }

// Available dials the gateway with a short deadline and hangs up.  No
// device I/O happens; a listening gateway is enough.
func (k *Kinesis) Available() bool {
	conn, err := net.DialTimeout("tcp", k.addr, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Enumerate lists the serial numbers of every attached device
func (k *Kinesis) Enumerate() ([]string, error) {
	resp, err := k.writeReadCommand("ENUM")
	if err != nil {
		return nil, err
	}
	if resp == "" {
		return []string{}, nil
	}
	return strings.Split(resp, ","), nil
}

func verb(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		return cmd[:i]
	}
	return cmd
}

func (k *Kinesis) writeReadCommand(cmd string) (string, error) {
	conn, err := k.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { k.pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(conn, RxTerm, TxTerm)
	_, err = io.WriteString(wrap, cmd)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 256)
	n, err := wrap.Read(buf)
	if err != nil {
		return "", err
	}
	resp := string(buf[:n])
	if strings.HasPrefix(resp, "ERR ") {
		code, convErr := strconv.Atoi(strings.TrimPrefix(resp, "ERR "))
		if convErr != nil {
			err = fmt.Errorf("%s: malformed error reply %q", verb(cmd), resp)
			return "", err
		}
		err = Error{Cmd: verb(cmd), Code: code}
		return "", err
	}
	return resp, nil
}

func (k *Kinesis) writeOnlyCommand(cmd string) error {
	resp, err := k.writeReadCommand(cmd)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return fmt.Errorf("%s: unexpected reply %q", verb(cmd), resp)
	}
	return nil
}

func (k *Kinesis) queryFloat(cmd string) (float64, error) {
	resp, err := k.writeReadCommand(cmd)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// Raw forwards one line to the gateway verbatim and returns the reply.
// It exists for manual diagnostics; nothing in this module depends on it.
func (k *Kinesis) Raw(cmd string) (string, error) {
	return k.writeReadCommand(cmd)
}

func (k *Kinesis) queryInt(cmd string) (int, error) {
	resp, err := k.writeReadCommand(cmd)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// OpenMotor opens a servo or brushless device and returns its handle
func (k *Kinesis) OpenMotor(serial string) (backend.Motor, error) {
	if err := k.writeOnlyCommand("OPEN " + serial); err != nil {
		return nil, err
	}
	return &motorHandle{k: k, serial: serial}, nil
}

// OpenInertial opens a multi-channel inertial device and returns its handle
func (k *Kinesis) OpenInertial(serial string) (backend.Inertial, error) {
	if err := k.writeOnlyCommand("OPEN " + serial); err != nil {
		return nil, err
	}
	return &inertialHandle{k: k, serial: serial}, nil
}

// OpenPiezo opens a piezo amplifier and returns its handle
func (k *Kinesis) OpenPiezo(serial string) (backend.Piezo, error) {
	if err := k.writeOnlyCommand("OPEN " + serial); err != nil {
		return nil, err
	}
	return &piezoHandle{k: k, serial: serial}, nil
}

type motorHandle struct {
	k      *Kinesis
	serial string
}

func (m *motorHandle) Home() error {
	return m.k.writeOnlyCommand("HOME " + m.serial)
}

func (m *motorHandle) MoveAbs(pos float64) error {
	return m.k.writeOnlyCommand(fmt.Sprintf("MOVEABS %s %.6f", m.serial, pos))
}

func (m *motorHandle) MoveRel(dist float64) error {
	return m.k.writeOnlyCommand(fmt.Sprintf("MOVEREL %s %.6f", m.serial, dist))
}

func (m *motorHandle) Stop() error {
	return m.k.writeOnlyCommand("STOP " + m.serial)
}

func (m *motorHandle) GetPos() (float64, error) {
	return m.k.queryFloat("POS? " + m.serial)
}

func (m *motorHandle) GetVelocity() (float64, error) {
	return m.k.queryFloat("VEL? " + m.serial)
}

func (m *motorHandle) SetVelocity(v float64) error {
	return m.k.writeOnlyCommand(fmt.Sprintf("VEL %s %.6f", m.serial, v))
}

func (m *motorHandle) GetAcceleration() (float64, error) {
	return m.k.queryFloat("ACC? " + m.serial)
}

func (m *motorHandle) SetAcceleration(a float64) error {
	return m.k.writeOnlyCommand(fmt.Sprintf("ACC %s %.6f", m.serial, a))
}

func (m *motorHandle) Enable() error {
	return m.k.writeOnlyCommand("ENABLE " + m.serial)
}

func (m *motorHandle) Disable() error {
	return m.k.writeOnlyCommand("DISABLE " + m.serial)
}

func (m *motorHandle) Identify() error {
	return m.k.writeOnlyCommand("IDENT " + m.serial)
}

// Status queries the composite status line, "<pos> <vel> <hex status word>"
func (m *motorHandle) Status() (backend.MotorStatus, error) {
	resp, err := m.k.writeReadCommand("STATUS? " + m.serial)
	if err != nil {
		return backend.MotorStatus{}, err
	}
	fields := strings.Fields(resp)
	if len(fields) != 3 {
		return backend.MotorStatus{}, fmt.Errorf("STATUS?: malformed reply %q", resp)
	}
	pos, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return backend.MotorStatus{}, err
	}
	vel, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return backend.MotorStatus{}, err
	}
	word, err := strconv.ParseUint(fields[2], 16, 32)
	if err != nil {
		return backend.MotorStatus{}, err
	}
	bits := Status(word)
	return backend.MotorStatus{
		Position: pos,
		Velocity: vel,
		Moving:   bits.Moving(),
		Homing:   bits.Homing(),
		Homed:    bits.Homed(),
		Enabled:  bits.Enabled(),
		FwdLimit: bits.FwdLimit(),
		RevLimit: bits.RevLimit(),
	}, nil
}

// StageName reads the stage part number from the motor's EEPROM, empty if
// no stage definition is present
func (m *motorHandle) StageName() (string, error) {
	resp, err := m.k.writeReadCommand("STAGE? " + m.serial)
	if err != nil {
		return "", err
	}
	if resp == "NONE" {
		return "", nil
	}
	return resp, nil
}

func (m *motorHandle) Close() error {
	return m.k.writeOnlyCommand("CLOSE " + m.serial)
}

type inertialHandle struct {
	k      *Kinesis
	serial string
}

func (n *inertialHandle) Jog(channel, direction, steps int) error {
	return n.k.writeOnlyCommand(fmt.Sprintf("JOG %s %d %d %d", n.serial, channel, direction, steps))
}

func (n *inertialHandle) MoveToLimit(channel, direction int) error {
	return n.k.writeOnlyCommand(fmt.Sprintf("JOGCONT %s %d %d", n.serial, channel, direction))
}

func (n *inertialHandle) Stop(channel int) error {
	return n.k.writeOnlyCommand(fmt.Sprintf("STOP %s %d", n.serial, channel))
}

func (n *inertialHandle) StepCount(channel int) (int, error) {
	return n.k.queryInt(fmt.Sprintf("COUNT? %s %d", n.serial, channel))
}

func (n *inertialHandle) ZeroCount(channel int) error {
	return n.k.writeOnlyCommand(fmt.Sprintf("ZERO %s %d", n.serial, channel))
}

func (n *inertialHandle) Enable(channel int) error {
	return n.k.writeOnlyCommand(fmt.Sprintf("ENABLE %s %d", n.serial, channel))
}

func (n *inertialHandle) Disable(channel int) error {
	return n.k.writeOnlyCommand(fmt.Sprintf("DISABLE %s %d", n.serial, channel))
}

func (n *inertialHandle) DriveParams(channel int) (backend.DriveParams, error) {
	resp, err := n.k.writeReadCommand(fmt.Sprintf("DRIVEPARAMS? %s %d", n.serial, channel))
	if err != nil {
		return backend.DriveParams{}, err
	}
	fields := strings.Fields(resp)
	if len(fields) != 3 {
		return backend.DriveParams{}, fmt.Errorf("DRIVEPARAMS?: malformed reply %q", resp)
	}
	rate, err := strconv.Atoi(fields[0])
	if err != nil {
		return backend.DriveParams{}, err
	}
	accel, err := strconv.Atoi(fields[1])
	if err != nil {
		return backend.DriveParams{}, err
	}
	maxV, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return backend.DriveParams{}, err
	}
	return backend.DriveParams{StepRate: rate, StepAccel: accel, MaxVoltage: maxV}, nil
}

func (n *inertialHandle) SetDriveParams(channel int, p backend.DriveParams) error {
	return n.k.writeOnlyCommand(fmt.Sprintf("DRIVEPARAMS %s %d %d %d %g", n.serial, channel, p.StepRate, p.StepAccel, p.MaxVoltage))
}

func (n *inertialHandle) Identify(channel int) error {
	return n.k.writeOnlyCommand(fmt.Sprintf("IDENT %s %d", n.serial, channel))
}

// Status queries one channel's status line, "<step count> <hex status word>"
func (n *inertialHandle) Status(channel int) (backend.InertialStatus, error) {
	resp, err := n.k.writeReadCommand(fmt.Sprintf("CHANSTATUS? %s %d", n.serial, channel))
	if err != nil {
		return backend.InertialStatus{}, err
	}
	fields := strings.Fields(resp)
	if len(fields) != 2 {
		return backend.InertialStatus{}, fmt.Errorf("CHANSTATUS?: malformed reply %q", resp)
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil {
		return backend.InertialStatus{}, err
	}
	word, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return backend.InertialStatus{}, err
	}
	bits := Status(word)
	return backend.InertialStatus{
		StepCount: count,
		Moving:    bits.Moving(),
		Enabled:   bits.Enabled(),
	}, nil
}

func (n *inertialHandle) Close() error {
	return n.k.writeOnlyCommand("CLOSE " + n.serial)
}

type piezoHandle struct {
	k      *Kinesis
	serial string
}

func (p *piezoHandle) SetVoltage(v float64) error {
	return p.k.writeOnlyCommand(fmt.Sprintf("VOLT %s %.4f", p.serial, v))
}

func (p *piezoHandle) GetVoltage() (float64, error) {
	return p.k.queryFloat("VOLT? " + p.serial)
}

func (p *piezoHandle) MaxVoltage() (float64, error) {
	return p.k.queryFloat("MAXVOLT? " + p.serial)
}

func (p *piezoHandle) SetPosition(pos float64) error {
	return p.k.writeOnlyCommand(fmt.Sprintf("PZPOS %s %.4f", p.serial, pos))
}

func (p *piezoHandle) GetPosition() (float64, error) {
	return p.k.queryFloat("PZPOS? " + p.serial)
}

func (p *piezoHandle) SetClosedLoop(on bool) error {
	mode := "0"
	if on {
		mode = "1"
	}
	return p.k.writeOnlyCommand(fmt.Sprintf("LOOP %s %s", p.serial, mode))
}

func (p *piezoHandle) GetClosedLoop() (bool, error) {
	i, err := p.k.queryInt("LOOP? " + p.serial)
	if err != nil {
		return false, err
	}
	return i == 1, nil
}

func (p *piezoHandle) Zero() error {
	return p.k.writeOnlyCommand("PZERO " + p.serial)
}

func (p *piezoHandle) Enable() error {
	return p.k.writeOnlyCommand("ENABLE " + p.serial)
}

func (p *piezoHandle) Disable() error {
	return p.k.writeOnlyCommand("DISABLE " + p.serial)
}

func (p *piezoHandle) Identify() error {
	return p.k.writeOnlyCommand("IDENT " + p.serial)
}

// Status queries the composite status line,
// "<voltage> <position> <loop> <enabled>"
func (p *piezoHandle) Status() (backend.PiezoStatus, error) {
	resp, err := p.k.writeReadCommand("PZSTATUS? " + p.serial)
	if err != nil {
		return backend.PiezoStatus{}, err
	}
	fields := strings.Fields(resp)
	if len(fields) != 4 {
		return backend.PiezoStatus{}, fmt.Errorf("PZSTATUS?: malformed reply %q", resp)
	}
	volts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return backend.PiezoStatus{}, err
	}
	pos, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return backend.PiezoStatus{}, err
	}
	return backend.PiezoStatus{
		Voltage:    volts,
		Position:   pos,
		ClosedLoop: fields[2] == "1",
		Enabled:    fields[3] == "1",
	}, nil
}

func (p *piezoHandle) Close() error {
	return p.k.writeOnlyCommand("CLOSE " + p.serial)
}
