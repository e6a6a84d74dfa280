package server_test

import (
	"encoding/json"
	"go/types"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goji "goji.io"
	"goji.io/pat"

	"github.com/bdube/stagehand/server"
)

func TestEncodeAndRespond(t *testing.T) {
	cases := []struct {
		descr string
		hp    server.HumanPayload
		want  string
	}{
		{"float", server.HumanPayload{T: types.Float64, Float: 12.5}, `{"f64":12.5}`},
		{"int", server.HumanPayload{T: types.Int, Int: 42}, `{"int":42}`},
		{"string", server.HumanPayload{T: types.String, String: "Z825B"}, `{"str":"Z825B"}`},
		{"bool", server.HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.descr, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.hp.EncodeAndRespond(w, r)
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %s, want application/json", ct)
			}
			got := strings.TrimSpace(w.Body.String())
			if got != tc.want {
				t.Errorf("body = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEncodeAndRespondUnknownType(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	hp := server.HumanPayload{T: types.Complex128}
	hp.EncodeAndRespond(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRouteTableEndpointsSorted(t *testing.T) {
	rt := server.RouteTable{
		pat.Get("/pos"):     func(w http.ResponseWriter, r *http.Request) {},
		pat.Post("/home"):   func(w http.ResponseWriter, r *http.Request) {},
		pat.Get("/enabled"): func(w http.ResponseWriter, r *http.Request) {},
	}
	eps := rt.Endpoints()
	if len(eps) != 3 {
		t.Fatalf("expected 3 endpoints, got %d", len(eps))
	}
	for i := 1; i < len(eps); i++ {
		if eps[i-1] > eps[i] {
			t.Errorf("endpoints out of order: %s > %s", eps[i-1], eps[i])
		}
	}
}

func TestRouteTableBind(t *testing.T) {
	rt := server.RouteTable{
		pat.Get("/pos"): func(w http.ResponseWriter, r *http.Request) {
			hp := server.HumanPayload{T: types.Float64, Float: 1.25}
			hp.EncodeAndRespond(w, r)
		},
	}
	mux := goji.NewMux()
	rt.Bind(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/pos")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f server.FloatT
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 1.25 {
		t.Errorf("round trip = %f, want 1.25", f.F64)
	}
}
