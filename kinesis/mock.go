package kinesis

import (
	"sync"
	"time"

	"github.com/bdube/stagehand/backend"
)

const (
	mockPeriod    = time.Millisecond
	mockPeriodSec = 1e-3

	// full piezo travel in microns at max voltage
	mockPiezoTravel = 20.0
)

// Mock is an in-memory stand-in for the gateway, for development and tests
// on hosts with no hardware.  Motion takes nonzero time so settle polling
// behaves the way it does against real devices.
type Mock struct {
	sync.Mutex
	serials []string
	stages  map[string]string
	motors  map[string]*mockMotor
	drivers map[string]*mockInertial
	piezos  map[string]*mockPiezo
}

// NewMock returns a mock backend that enumerates the given serial numbers
func NewMock(serials ...string) *Mock {
	return &Mock{
		serials: serials,
		stages:  make(map[string]string),
		motors:  make(map[string]*mockMotor),
		drivers: make(map[string]*mockInertial),
		piezos:  make(map[string]*mockPiezo)}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Available() bool { return true }

func (m *Mock) Enumerate() ([]string, error) {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.serials))
	copy(out, m.serials)
	return out, nil
}

// SetStage plants a stage part number in a mock motor's EEPROM
func (m *Mock) SetStage(serial, part string) {
	m.Lock()
	defer m.Unlock()
	m.stages[serial] = part
	if mot, ok := m.motors[serial]; ok {
		mot.Lock()
		mot.stage = part
		mot.Unlock()
	}
}

func (m *Mock) OpenMotor(serial string) (backend.Motor, error) {
	m.Lock()
	defer m.Unlock()
	mot, ok := m.motors[serial]
	if !ok {
		mot = &mockMotor{vel: 1, acc: 4, stage: m.stages[serial]}
		m.motors[serial] = mot
	}
	return mot, nil
}

func (m *Mock) OpenInertial(serial string) (backend.Inertial, error) {
	m.Lock()
	defer m.Unlock()
	drv, ok := m.drivers[serial]
	if !ok {
		drv = newMockInertial()
		m.drivers[serial] = drv
	}
	return drv, nil
}

func (m *Mock) OpenPiezo(serial string) (backend.Piezo, error) {
	m.Lock()
	defer m.Unlock()
	pz, ok := m.piezos[serial]
	if !ok {
		pz = &mockPiezo{maxV: 75}
		m.piezos[serial] = pz
	}
	return pz, nil
}

type mockMotor struct {
	sync.Mutex
	pos     float64
	vel     float64
	acc     float64
	moving  bool
	homing  bool
	homed   bool
	enabled bool
	stage   string
	gen     int
}

// slew walks pos toward target at the current velocity.  It abandons the
// move when gen no longer matches, which is how Stop and a superseding move
// kill an in-flight one.
func (m *mockMotor) slew(target float64, gen int) {
	tick := time.NewTicker(mockPeriod)
	defer tick.Stop()
	for range tick.C {
		m.Lock()
		if m.gen != gen {
			m.Unlock()
			return
		}
		step := m.vel * mockPeriodSec
		if m.pos > target {
			step = -step
		}
		next := m.pos + step
		if (m.pos <= target && next >= target) || (m.pos >= target && next <= target) {
			m.pos = target
			m.moving = false
			if m.homing {
				m.homing = false
				m.homed = true
			}
			m.Unlock()
			return
		}
		m.pos = next
		m.Unlock()
	}
}

func (m *mockMotor) Home() error {
	m.Lock()
	defer m.Unlock()
	m.homing = true
	m.gen++
	go m.slew(0, m.gen)
	return nil
}

func (m *mockMotor) MoveAbs(pos float64) error {
	m.Lock()
	defer m.Unlock()
	m.moving = true
	m.gen++
	go m.slew(pos, m.gen)
	return nil
}

func (m *mockMotor) MoveRel(dist float64) error {
	m.Lock()
	defer m.Unlock()
	m.moving = true
	m.gen++
	go m.slew(m.pos+dist, m.gen)
	return nil
}

func (m *mockMotor) Stop() error {
	m.Lock()
	defer m.Unlock()
	m.gen++
	m.moving = false
	m.homing = false
	return nil
}

func (m *mockMotor) GetPos() (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.pos, nil
}

func (m *mockMotor) GetVelocity() (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.vel, nil
}

func (m *mockMotor) SetVelocity(v float64) error {
	m.Lock()
	defer m.Unlock()
	m.vel = v
	return nil
}

func (m *mockMotor) GetAcceleration() (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.acc, nil
}

func (m *mockMotor) SetAcceleration(a float64) error {
	m.Lock()
	defer m.Unlock()
	m.acc = a
	return nil
}

func (m *mockMotor) Enable() error {
	m.Lock()
	defer m.Unlock()
	m.enabled = true
	return nil
}

func (m *mockMotor) Disable() error {
	m.Lock()
	defer m.Unlock()
	m.enabled = false
	return nil
}

func (m *mockMotor) Identify() error { return nil }

func (m *mockMotor) Status() (backend.MotorStatus, error) {
	m.Lock()
	defer m.Unlock()
	return backend.MotorStatus{
		Position: m.pos,
		Velocity: m.vel,
		Moving:   m.moving,
		Homing:   m.homing,
		Homed:    m.homed,
		Enabled:  m.enabled,
	}, nil
}

func (m *mockMotor) StageName() (string, error) {
	m.Lock()
	defer m.Unlock()
	return m.stage, nil
}

func (m *mockMotor) Close() error { return nil }

type mockInertial struct {
	sync.Mutex
	counts  map[int]int
	moving  map[int]bool
	enabled map[int]bool
	params  map[int]backend.DriveParams
	gens    map[int]int
}

func newMockInertial() *mockInertial {
	return &mockInertial{
		counts:  make(map[int]int),
		moving:  make(map[int]bool),
		enabled: make(map[int]bool),
		params:  make(map[int]backend.DriveParams),
		gens:    make(map[int]int)}
}

// ensure must be called with the lock held
func (n *mockInertial) ensure(channel int) {
	if _, ok := n.params[channel]; !ok {
		n.params[channel] = backend.DriveParams{StepRate: 1000, StepAccel: 10000, MaxVoltage: 112}
	}
}

// run consumes steps on one channel at the drive rate.  steps < 0 runs
// without bound, which is how MoveToLimit behaves until Stop.
func (n *mockInertial) run(channel, direction, steps, gen int) {
	tick := time.NewTicker(mockPeriod)
	defer tick.Stop()
	for range tick.C {
		n.Lock()
		if n.gens[channel] != gen {
			n.Unlock()
			return
		}
		n.ensure(channel)
		burst := int(float64(n.params[channel].StepRate) * mockPeriodSec)
		if burst < 1 {
			burst = 1
		}
		if steps >= 0 && burst > steps {
			burst = steps
		}
		n.counts[channel] += direction * burst
		if steps >= 0 {
			steps -= burst
			if steps == 0 {
				n.moving[channel] = false
				n.Unlock()
				return
			}
		}
		n.Unlock()
	}
}

func (n *mockInertial) Jog(channel, direction, steps int) error {
	n.Lock()
	defer n.Unlock()
	n.moving[channel] = true
	n.gens[channel]++
	go n.run(channel, direction, steps, n.gens[channel])
	return nil
}

func (n *mockInertial) MoveToLimit(channel, direction int) error {
	n.Lock()
	defer n.Unlock()
	n.moving[channel] = true
	n.gens[channel]++
	go n.run(channel, direction, -1, n.gens[channel])
	return nil
}

func (n *mockInertial) Stop(channel int) error {
	n.Lock()
	defer n.Unlock()
	n.gens[channel]++
	n.moving[channel] = false
	return nil
}

func (n *mockInertial) StepCount(channel int) (int, error) {
	n.Lock()
	defer n.Unlock()
	return n.counts[channel], nil
}

func (n *mockInertial) ZeroCount(channel int) error {
	n.Lock()
	defer n.Unlock()
	n.counts[channel] = 0
	return nil
}

func (n *mockInertial) Enable(channel int) error {
	n.Lock()
	defer n.Unlock()
	n.enabled[channel] = true
	return nil
}

func (n *mockInertial) Disable(channel int) error {
	n.Lock()
	defer n.Unlock()
	n.enabled[channel] = false
	return nil
}

func (n *mockInertial) DriveParams(channel int) (backend.DriveParams, error) {
	n.Lock()
	defer n.Unlock()
	n.ensure(channel)
	return n.params[channel], nil
}

func (n *mockInertial) SetDriveParams(channel int, p backend.DriveParams) error {
	n.Lock()
	defer n.Unlock()
	n.params[channel] = p
	return nil
}

func (n *mockInertial) Identify(channel int) error { return nil }

func (n *mockInertial) Status(channel int) (backend.InertialStatus, error) {
	n.Lock()
	defer n.Unlock()
	return backend.InertialStatus{
		StepCount: n.counts[channel],
		Moving:    n.moving[channel],
		Enabled:   n.enabled[channel],
	}, nil
}

func (n *mockInertial) Close() error { return nil }

type mockPiezo struct {
	sync.Mutex
	voltage    float64
	position   float64
	maxV       float64
	closedLoop bool
	enabled    bool
}

func (p *mockPiezo) SetVoltage(v float64) error {
	p.Lock()
	defer p.Unlock()
	p.voltage = v
	p.position = v / p.maxV * mockPiezoTravel
	return nil
}

func (p *mockPiezo) GetVoltage() (float64, error) {
	p.Lock()
	defer p.Unlock()
	return p.voltage, nil
}

func (p *mockPiezo) MaxVoltage() (float64, error) {
	p.Lock()
	defer p.Unlock()
	return p.maxV, nil
}

func (p *mockPiezo) SetPosition(pos float64) error {
	p.Lock()
	defer p.Unlock()
	p.position = pos
	p.voltage = pos / mockPiezoTravel * p.maxV
	return nil
}

func (p *mockPiezo) GetPosition() (float64, error) {
	p.Lock()
	defer p.Unlock()
	return p.position, nil
}

func (p *mockPiezo) SetClosedLoop(on bool) error {
	p.Lock()
	defer p.Unlock()
	p.closedLoop = on
	return nil
}

func (p *mockPiezo) GetClosedLoop() (bool, error) {
	p.Lock()
	defer p.Unlock()
	return p.closedLoop, nil
}

func (p *mockPiezo) Zero() error {
	p.Lock()
	defer p.Unlock()
	p.voltage = 0
	p.position = 0
	return nil
}

func (p *mockPiezo) Enable() error {
	p.Lock()
	defer p.Unlock()
	p.enabled = true
	return nil
}

func (p *mockPiezo) Disable() error {
	p.Lock()
	defer p.Unlock()
	p.enabled = false
	return nil
}

func (p *mockPiezo) Identify() error { return nil }

func (p *mockPiezo) Status() (backend.PiezoStatus, error) {
	p.Lock()
	defer p.Unlock()
	return backend.PiezoStatus{
		Voltage:    p.voltage,
		Position:   p.position,
		ClosedLoop: p.closedLoop,
		Enabled:    p.enabled,
	}, nil
}

func (p *mockPiezo) Close() error { return nil }
