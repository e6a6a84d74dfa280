package kinesis_test

import (
	"testing"
	"time"

	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/kinesis"
)

// settle polls isMoving until it goes false or the test deadline passes
func settle(t *testing.T, isMoving func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !isMoving() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("motion did not settle in time")
}

func TestMockEnumerate(t *testing.T) {
	mk := kinesis.NewMock("27000001", "97000002")
	if mk.Name() != "mock" {
		t.Errorf("name = %q", mk.Name())
	}
	if !mk.Available() {
		t.Error("mock backend must always be available")
	}
	serials, err := mk.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	if len(serials) != 2 || serials[0] != "27000001" || serials[1] != "97000002" {
		t.Errorf("serials = %v", serials)
	}
}

func TestMockMotorSlews(t *testing.T) {
	mk := kinesis.NewMock("27000001")
	mot, err := mk.OpenMotor("27000001")
	if err != nil {
		t.Fatal(err)
	}
	if err := mot.SetVelocity(100); err != nil {
		t.Fatal(err)
	}
	if err := mot.MoveAbs(1); err != nil {
		t.Fatal(err)
	}
	settle(t, func() bool {
		st, _ := mot.Status()
		return st.Moving
	})
	pos, err := mot.GetPos()
	if err != nil {
		t.Fatal(err)
	}
	if pos != 1 {
		t.Errorf("pos = %v, want 1", pos)
	}

	if err := mot.MoveRel(-0.25); err != nil {
		t.Fatal(err)
	}
	settle(t, func() bool {
		st, _ := mot.Status()
		return st.Moving
	})
	pos, _ = mot.GetPos()
	if pos != 0.75 {
		t.Errorf("pos = %v, want 0.75", pos)
	}
}

func TestMockMotorHome(t *testing.T) {
	mk := kinesis.NewMock("27000001")
	mot, err := mk.OpenMotor("27000001")
	if err != nil {
		t.Fatal(err)
	}
	mot.SetVelocity(100)
	if err := mot.MoveAbs(0.5); err != nil {
		t.Fatal(err)
	}
	settle(t, func() bool {
		st, _ := mot.Status()
		return st.Moving
	})
	if err := mot.Home(); err != nil {
		t.Fatal(err)
	}
	settle(t, func() bool {
		st, _ := mot.Status()
		return st.Homing
	})
	st, err := mot.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Homed {
		t.Error("not homed after homing settled")
	}
	if st.Position != 0 {
		t.Errorf("pos = %v after home, want 0", st.Position)
	}
}

func TestMockMotorStop(t *testing.T) {
	mk := kinesis.NewMock("27000001")
	mot, err := mk.OpenMotor("27000001")
	if err != nil {
		t.Fatal(err)
	}
	mot.SetVelocity(0.001)
	if err := mot.MoveAbs(100); err != nil {
		t.Fatal(err)
	}
	if err := mot.Stop(); err != nil {
		t.Fatal(err)
	}
	st, err := mot.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Moving {
		t.Error("still moving after stop")
	}
	if st.Position > 1 {
		t.Errorf("pos = %v, the slew ran through the stop", st.Position)
	}
}

func TestMockStageName(t *testing.T) {
	mk := kinesis.NewMock("27000001")
	mk.SetStage("27000001", "MTS50-Z8")
	mot, err := mk.OpenMotor("27000001")
	if err != nil {
		t.Fatal(err)
	}
	si, ok := mot.(backend.StageIdentifier)
	if !ok {
		t.Fatal("mock motor does not identify its stage")
	}
	name, err := si.StageName()
	if err != nil {
		t.Fatal(err)
	}
	if name != "MTS50-Z8" {
		t.Errorf("stage = %q, want MTS50-Z8", name)
	}
}

func TestMockInertialJog(t *testing.T) {
	mk := kinesis.NewMock("97000001")
	drv, err := mk.OpenInertial("97000001")
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.SetDriveParams(1, backend.DriveParams{StepRate: 10000, StepAccel: 10000, MaxVoltage: 112}); err != nil {
		t.Fatal(err)
	}
	if err := drv.Jog(1, 1, 50); err != nil {
		t.Fatal(err)
	}
	settle(t, func() bool {
		st, _ := drv.Status(1)
		return st.Moving
	})
	count, err := drv.StepCount(1)
	if err != nil {
		t.Fatal(err)
	}
	if count != 50 {
		t.Errorf("count = %d, want 50", count)
	}

	if err := drv.Jog(1, -1, 30); err != nil {
		t.Fatal(err)
	}
	settle(t, func() bool {
		st, _ := drv.Status(1)
		return st.Moving
	})
	count, _ = drv.StepCount(1)
	if count != 20 {
		t.Errorf("count = %d, want 20", count)
	}

	if err := drv.ZeroCount(1); err != nil {
		t.Fatal(err)
	}
	count, _ = drv.StepCount(1)
	if count != 0 {
		t.Errorf("count = %d after zero", count)
	}
}

func TestMockInertialMoveToLimit(t *testing.T) {
	mk := kinesis.NewMock("97000001")
	drv, err := mk.OpenInertial("97000001")
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.MoveToLimit(2, 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := drv.Stop(2); err != nil {
		t.Fatal(err)
	}
	count, err := drv.StepCount(2)
	if err != nil {
		t.Fatal(err)
	}
	if count == 0 {
		t.Error("no steps consumed by a continuous move")
	}
	time.Sleep(10 * time.Millisecond)
	again, _ := drv.StepCount(2)
	if again != count {
		t.Errorf("count moved from %d to %d after stop", count, again)
	}
}

func TestMockPiezo(t *testing.T) {
	mk := kinesis.NewMock("29000001")
	pz, err := mk.OpenPiezo("29000001")
	if err != nil {
		t.Fatal(err)
	}
	max, err := pz.MaxVoltage()
	if err != nil {
		t.Fatal(err)
	}
	if max != 75 {
		t.Errorf("max voltage = %v, want 75", max)
	}
	if err := pz.SetVoltage(37.5); err != nil {
		t.Fatal(err)
	}
	pos, err := pz.GetPosition()
	if err != nil {
		t.Fatal(err)
	}
	if pos != 10 {
		t.Errorf("position = %v at half drive, want 10", pos)
	}
	if err := pz.SetClosedLoop(true); err != nil {
		t.Fatal(err)
	}
	if err := pz.SetPosition(5); err != nil {
		t.Fatal(err)
	}
	v, err := pz.GetVoltage()
	if err != nil {
		t.Fatal(err)
	}
	if v != 18.75 {
		t.Errorf("voltage = %v at quarter travel, want 18.75", v)
	}
	if err := pz.Zero(); err != nil {
		t.Fatal(err)
	}
	st, err := pz.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Voltage != 0 || st.Position != 0 {
		t.Errorf("status after zero = %+v", st)
	}
	if !st.ClosedLoop {
		t.Error("closed loop flag lost")
	}
}
