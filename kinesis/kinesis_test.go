package kinesis_test

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/kinesis"

	"github.com/google/go-cmp/cmp"
)

// gateway starts a scripted line server on a free port and returns its
// address.  Every received line is answered with handler(line).
func gateway(t *testing.T, handler func(line string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen:", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					io.WriteString(c, handler(sc.Text())+"\n")
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

// recorder answers from a reply table and keeps the lines it served.
// Lines not in the table get "OK".
type recorder struct {
	mu      sync.Mutex
	lines   []string
	replies map[string]string
}

func (r *recorder) handle(line string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if resp, ok := r.replies[line]; ok {
		return resp
	}
	return "OK"
}

func (r *recorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func TestAvailable(t *testing.T) {
	addr := gateway(t, func(string) string { return "OK" })
	if !kinesis.New(addr).Available() {
		t.Error("gateway is listening but Available() = false")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := ln.Addr().String()
	ln.Close()
	if kinesis.New(dead).Available() {
		t.Error("Available() = true with no gateway")
	}
}

func TestEnumerate(t *testing.T) {
	addr := gateway(t, func(line string) string {
		if line != "ENUM" {
			return "ERR 4"
		}
		return "27000001,97000002,29000003"
	})
	got, err := kinesis.New(addr).Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"27000001", "97000002", "29000003"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("serial list mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumerateNoDevices(t *testing.T) {
	addr := gateway(t, func(string) string { return "" })
	got, err := kinesis.New(addr).Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("enumerated %v from an empty gateway", got)
	}
}

func TestMotorCommands(t *testing.T) {
	rec := &recorder{replies: map[string]string{
		"POS? 27000001":    "1.5",
		"STATUS? 27000001": "1.5 2.0 80000410",
		"STAGE? 27000001":  "MTS50-Z8",
	}}
	addr := gateway(t, rec.handle)
	k := kinesis.New(addr)

	mot, err := k.OpenMotor("27000001")
	if err != nil {
		t.Fatal(err)
	}
	if err := mot.MoveAbs(1.5); err != nil {
		t.Fatal(err)
	}
	pos, err := mot.GetPos()
	if err != nil {
		t.Fatal(err)
	}
	if pos != 1.5 {
		t.Errorf("pos = %v, want 1.5", pos)
	}
	st, err := mot.Status()
	if err != nil {
		t.Fatal(err)
	}
	wantSt := backend.MotorStatus{Position: 1.5, Velocity: 2, Moving: true, Homed: true, Enabled: true}
	if diff := cmp.Diff(wantSt, st); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	name, err := mot.(backend.StageIdentifier).StageName()
	if err != nil {
		t.Fatal(err)
	}
	if name != "MTS50-Z8" {
		t.Errorf("stage = %q, want MTS50-Z8", name)
	}
	if err := mot.Close(); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"OPEN 27000001",
		"MOVEABS 27000001 1.500000",
		"POS? 27000001",
		"STATUS? 27000001",
		"STAGE? 27000001",
		"CLOSE 27000001",
	}
	if diff := cmp.Diff(want, rec.received()); diff != "" {
		t.Errorf("wire traffic mismatch (-want +got):\n%s", diff)
	}
}

func TestStageNameAbsent(t *testing.T) {
	rec := &recorder{replies: map[string]string{"STAGE? 27000002": "NONE"}}
	addr := gateway(t, rec.handle)
	mot, err := kinesis.New(addr).OpenMotor("27000002")
	if err != nil {
		t.Fatal(err)
	}
	name, err := mot.(backend.StageIdentifier).StageName()
	if err != nil {
		t.Fatal(err)
	}
	if name != "" {
		t.Errorf("stage = %q, want empty for a device with no stage definition", name)
	}
}

func TestErrorReplyMapped(t *testing.T) {
	rec := &recorder{replies: map[string]string{"POS? 27000003": "ERR 2"}}
	addr := gateway(t, rec.handle)
	mot, err := kinesis.New(addr).OpenMotor("27000003")
	if err != nil {
		t.Fatal(err)
	}
	_, err = mot.GetPos()
	kerr, ok := err.(kinesis.Error)
	if !ok {
		t.Fatalf("err = %v (%T), want kinesis.Error", err, err)
	}
	if kerr.Cmd != "POS?" || kerr.Code != 2 {
		t.Errorf("error = %+v, want Cmd POS? Code 2", kerr)
	}
	if !strings.Contains(err.Error(), "device not opened") {
		t.Errorf("error text %q does not name the failure", err.Error())
	}

	// the error reply poisons the pooled connection; the next command
	// must succeed on a fresh one
	if err := mot.Identify(); err != nil {
		t.Errorf("command after error reply failed: %v", err)
	}
}

func TestWriteOnlyUnexpectedReply(t *testing.T) {
	rec := &recorder{replies: map[string]string{"HOME 27000004": "WAT"}}
	addr := gateway(t, rec.handle)
	mot, err := kinesis.New(addr).OpenMotor("27000004")
	if err != nil {
		t.Fatal(err)
	}
	err = mot.Home()
	if err == nil || !strings.Contains(err.Error(), "unexpected reply") {
		t.Errorf("err = %v, want unexpected reply", err)
	}
}

func TestMalformedStatusReply(t *testing.T) {
	rec := &recorder{replies: map[string]string{"STATUS? 27000005": "1.5 2.0"}}
	addr := gateway(t, rec.handle)
	mot, err := kinesis.New(addr).OpenMotor("27000005")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mot.Status(); err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Errorf("err = %v, want malformed reply", err)
	}
}

func TestInertialCommands(t *testing.T) {
	rec := &recorder{replies: map[string]string{
		"DRIVEPARAMS? 97000001 2": "500 1000 112",
		"CHANSTATUS? 97000001 2":  "150 20",
		"COUNT? 97000001 2":       "150",
	}}
	addr := gateway(t, rec.handle)
	drv, err := kinesis.New(addr).OpenInertial("97000001")
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Jog(2, -1, 50); err != nil {
		t.Fatal(err)
	}
	if err := drv.MoveToLimit(2, 1); err != nil {
		t.Fatal(err)
	}
	if err := drv.Stop(2); err != nil {
		t.Fatal(err)
	}
	params, err := drv.DriveParams(2)
	if err != nil {
		t.Fatal(err)
	}
	wantParams := backend.DriveParams{StepRate: 500, StepAccel: 1000, MaxVoltage: 112}
	if diff := cmp.Diff(wantParams, params); diff != "" {
		t.Errorf("drive params mismatch (-want +got):\n%s", diff)
	}
	if err := drv.SetDriveParams(2, backend.DriveParams{StepRate: 1000, StepAccel: 10000, MaxVoltage: 85}); err != nil {
		t.Fatal(err)
	}
	count, err := drv.StepCount(2)
	if err != nil {
		t.Fatal(err)
	}
	if count != 150 {
		t.Errorf("count = %d, want 150", count)
	}
	st, err := drv.Status(2)
	if err != nil {
		t.Fatal(err)
	}
	wantSt := backend.InertialStatus{StepCount: 150, Moving: true}
	if diff := cmp.Diff(wantSt, st); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if err := drv.ZeroCount(2); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"OPEN 97000001",
		"JOG 97000001 2 -1 50",
		"JOGCONT 97000001 2 1",
		"STOP 97000001 2",
		"DRIVEPARAMS? 97000001 2",
		"DRIVEPARAMS 97000001 2 1000 10000 85",
		"COUNT? 97000001 2",
		"CHANSTATUS? 97000001 2",
		"ZERO 97000001 2",
	}
	if diff := cmp.Diff(want, rec.received()); diff != "" {
		t.Errorf("wire traffic mismatch (-want +got):\n%s", diff)
	}
}

func TestPiezoCommands(t *testing.T) {
	rec := &recorder{replies: map[string]string{
		"VOLT? 29000001":     "32.5",
		"MAXVOLT? 29000001":  "75",
		"LOOP? 29000001":     "1",
		"PZSTATUS? 29000001": "32.5 8.7 1 1",
	}}
	addr := gateway(t, rec.handle)
	pz, err := kinesis.New(addr).OpenPiezo("29000001")
	if err != nil {
		t.Fatal(err)
	}
	if err := pz.SetVoltage(32.5); err != nil {
		t.Fatal(err)
	}
	v, err := pz.GetVoltage()
	if err != nil {
		t.Fatal(err)
	}
	if v != 32.5 {
		t.Errorf("voltage = %v, want 32.5", v)
	}
	max, err := pz.MaxVoltage()
	if err != nil {
		t.Fatal(err)
	}
	if max != 75 {
		t.Errorf("max voltage = %v, want 75", max)
	}
	if err := pz.SetClosedLoop(true); err != nil {
		t.Fatal(err)
	}
	loop, err := pz.GetClosedLoop()
	if err != nil {
		t.Fatal(err)
	}
	if !loop {
		t.Error("closed loop = false, want true")
	}
	if err := pz.SetPosition(8.7); err != nil {
		t.Fatal(err)
	}
	if err := pz.Zero(); err != nil {
		t.Fatal(err)
	}
	st, err := pz.Status()
	if err != nil {
		t.Fatal(err)
	}
	wantSt := backend.PiezoStatus{Voltage: 32.5, Position: 8.7, ClosedLoop: true, Enabled: true}
	if diff := cmp.Diff(wantSt, st); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	want := []string{
		"OPEN 29000001",
		"VOLT 29000001 32.5000",
		"VOLT? 29000001",
		"MAXVOLT? 29000001",
		"LOOP 29000001 1",
		"LOOP? 29000001",
		"PZPOS 29000001 8.7000",
		"PZERO 29000001",
		"PZSTATUS? 29000001",
	}
	if diff := cmp.Diff(want, rec.received()); diff != "" {
		t.Errorf("wire traffic mismatch (-want +got):\n%s", diff)
	}
}
