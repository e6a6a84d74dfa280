// Package server contains the plumbing shared by every HTTP wrapper in this
// module: a route table bound to goji muxes, and a payload type that encodes
// scalar replies uniformly.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"sort"

	goji "goji.io"
)

// RouteTable maps goji patterns to handler funcs
type RouteTable map[goji.Pattern]http.HandlerFunc

// Endpoints returns the URL fragments in the table, sorted
func (rt RouteTable) Endpoints() []string {
	endpoints := make([]string, 0, len(rt))
	for k := range rt {
		if s, ok := k.(fmt.Stringer); ok {
			endpoints = append(endpoints, s.String())
		}
	}
	sort.Strings(endpoints)
	return endpoints
}

// Bind attaches each route in the table to a mux
func (rt RouteTable) Bind(mux *goji.Mux) {
	for pattern, handler := range rt {
		mux.Handle(pattern, handler)
	}
}

// HTTPer is an object which exposes a route table over HTTP
type HTTPer interface {
	// RT yields the route table of the object
	RT() RouteTable
}

// FloatT is a struct with a single field, F64, used for http responses
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single field, Int, used for http responses
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single field, Str, used for http responses
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single field, Bool, used for http responses
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a container for a scalar of any of the basic types.
// T indicates which field is live.
type HumanPayload struct {
	// T holds the type of the payload
	T types.BasicKind

	// Bool holds a binary value
	Bool bool

	// Float holds a floating point value
	Float float64

	// Int holds an integer value
	Int int

	// String holds a string value
	String string
}

// EncodeAndRespond converts the payload to the matching single-field struct
// and writes it to the response as JSON
func (hp *HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	switch hp.T {
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	default:
		err = fmt.Errorf("payload type %v not encodable", hp.T)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
