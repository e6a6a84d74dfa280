package motion_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goji "goji.io"

	"github.com/bdube/stagehand/controller"
	"github.com/bdube/stagehand/generichttp/motion"
	"github.com/bdube/stagehand/kinesis"
	"github.com/bdube/stagehand/registry"
	"github.com/bdube/stagehand/util"
)

const serial = "27000001"

func newMotorServer(t *testing.T, limits util.Limiter) (*httptest.Server, *controller.Motor) {
	t.Helper()
	mock := kinesis.NewMock(serial)
	dt, _ := registry.TypeForSerial(serial)
	ctl := controller.NewMotor(mock, controller.NewArena(), serial, dt)
	if err := ctl.Connect(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ctl.Disconnect)

	httper := motion.NewHTTPController(ctl)
	limiter := motion.LimitMiddleware{Limits: limits, C: ctl}
	limiter.Inject(httper)
	mux := goji.NewMux()
	mux.Use(limiter.Check)
	httper.RT().Bind(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, ctl
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestMoveAndReadback(t *testing.T) {
	srv, _ := newMotorServer(t, util.Limiter{})
	resp := postJSON(t, srv.URL+"/pos?timeout=5", `{"f64":0.05}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move status %d", resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/pos")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f struct {
		F64 float64 `json:"f64"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 0.05 {
		t.Errorf("pos %v, want 0.05", f.F64)
	}
}

func TestRelativeMove(t *testing.T) {
	srv, _ := newMotorServer(t, util.Limiter{})
	resp := postJSON(t, srv.URL+"/pos?timeout=5", `{"f64":0.02}`)
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/pos?relative=true&timeout=5", `{"f64":0.01}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("relative move status %d", resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/pos")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f struct {
		F64 float64 `json:"f64"`
	}
	json.NewDecoder(resp.Body).Decode(&f)
	if f.F64 < 0.0299 || f.F64 > 0.0301 {
		t.Errorf("pos %v, want 0.03", f.F64)
	}
}

func TestLimitRejectsOutOfRange(t *testing.T) {
	srv, ctl := newMotorServer(t, util.Limiter{Min: -1, Max: 1})
	resp := postJSON(t, srv.URL+"/pos?timeout=5", `{"f64":2}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out of range move status %d, want 400", resp.StatusCode)
	}
	if pos, _ := ctl.GetPos(); pos != 0 {
		t.Errorf("limited move still ran, pos %v", pos)
	}
	// within range passes
	resp = postJSON(t, srv.URL+"/pos?timeout=5", `{"f64":0.5}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("in-range move status %d", resp.StatusCode)
	}
}

func TestLimitsRoute(t *testing.T) {
	srv, _ := newMotorServer(t, util.Limiter{Min: -2, Max: 2})
	resp, err := http.Get(srv.URL + "/limits")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	lim := util.Limiter{}
	if err := json.NewDecoder(resp.Body).Decode(&lim); err != nil {
		t.Fatal(err)
	}
	if lim.Min != -2 || lim.Max != 2 {
		t.Errorf("limits %+v", lim)
	}
}

func TestVelocityRoutes(t *testing.T) {
	srv, _ := newMotorServer(t, util.Limiter{})
	resp := postJSON(t, srv.URL+"/velocity", `{"f64":2.2}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set velocity status %d", resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/velocity")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f struct {
		F64 float64 `json:"f64"`
	}
	json.NewDecoder(resp.Body).Decode(&f)
	if f.F64 != 2.2 {
		t.Errorf("velocity %v, want 2.2", f.F64)
	}
}

func TestAccelerationRoutes(t *testing.T) {
	srv, _ := newMotorServer(t, util.Limiter{})
	resp := postJSON(t, srv.URL+"/acceleration", `{"f64":1.5}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set acceleration status %d", resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/acceleration")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f struct {
		F64 float64 `json:"f64"`
	}
	json.NewDecoder(resp.Body).Decode(&f)
	if f.F64 != 1.5 {
		t.Errorf("acceleration %v, want 1.5", f.F64)
	}
}

func TestStateAndStatusRoutes(t *testing.T) {
	srv, _ := newMotorServer(t, util.Limiter{})
	resp, err := http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var s struct {
		Str string `json:"str"`
	}
	json.NewDecoder(resp.Body).Decode(&s)
	if s.Str != "connected" {
		t.Errorf("state %q, want connected", s.Str)
	}
	resp2, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	status := controller.MotorStatus{}
	if err := json.NewDecoder(resp2.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.Connected {
		t.Error("status should report connected")
	}
}

func TestPiezoRoutesPresent(t *testing.T) {
	mock := kinesis.NewMock(piezoSerial)
	dt, _ := registry.TypeForSerial(piezoSerial)
	ctl := controller.NewPiezo(mock, controller.NewArena(), piezoSerial, dt)
	if err := ctl.Connect(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ctl.Disconnect)
	httper := motion.NewHTTPController(ctl)
	mux := goji.NewMux()
	httper.RT().Bind(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp := postJSON(t, srv.URL+"/voltage", `{"f64":10}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set voltage status %d", resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/voltage")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f struct {
		F64 float64 `json:"f64"`
	}
	json.NewDecoder(resp.Body).Decode(&f)
	if f.F64 != 10 {
		t.Errorf("voltage %v, want 10", f.F64)
	}
	// homing a piezo is inapplicable, not an internal error
	resp = postJSON(t, srv.URL+"/home", ``)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("home on a piezo returned %d, want 400", resp.StatusCode)
	}
}

const piezoSerial = "29000001"

func TestInertialRoutesPresent(t *testing.T) {
	mock := kinesis.NewMock("97000001")
	dt, _ := registry.TypeForSerial("97000001")
	ctl := controller.NewInertial(mock, controller.NewArena(), "97000001", 1, dt)
	if err := ctl.Connect(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ctl.Disconnect)
	httper := motion.NewHTTPController(ctl)
	mux := goji.NewMux()
	httper.RT().Bind(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp := postJSON(t, srv.URL+"/jog?timeout=5", `{"int":40}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("jog status %d", resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/step-count")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var i struct {
		Int int `json:"int"`
	}
	json.NewDecoder(resp.Body).Decode(&i)
	if i.Int != 40 {
		t.Errorf("step count %d, want 40", i.Int)
	}
	resp = postJSON(t, srv.URL+"/zero-count", ``)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("zero-count status %d", resp.StatusCode)
	}
}
