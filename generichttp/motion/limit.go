package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/bdube/stagehand/controller"
	"github.com/bdube/stagehand/server"
	"github.com/bdube/stagehand/util"

	"goji.io/pat"
)

var errClamped = errors.New("requested position violates software limits, aborted")

// LimitMiddleware imposes soft travel limits on a session's motion routes.
// Motion commands that would land outside the limits are rejected with
// StatusBadRequest before reaching the device.
type LimitMiddleware struct {
	// Limits bounds the commanded position in stage units
	Limits util.Limiter

	// C is the wrapped session, used to resolve relative motion against
	// the current position
	C controller.Controller
}

// Inject adds a route to the HTTPer exposing the limits
func (l *LimitMiddleware) Inject(other server.HTTPer) {
	other.RT()[pat.Get("/limits")] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(l.Limits); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Check is an HTTP middleware that rejects motion beyond the limits.  Only
// POSTs to pos routes are inspected; everything else passes through.
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.Contains(r.URL.Path, "pos") {
			next.ServeHTTP(w, r)
			return
		}
		f := server.FloatT{}
		// downstream handlers need the body too; read it all here and
		// paste it back
		bodyContent, _ := ioutil.ReadAll(r.Body)
		defer r.Body.Close()
		r.Body = ioutil.NopCloser(bytes.NewBuffer(bodyContent))
		if err := json.NewDecoder(bytes.NewReader(bodyContent)).Decode(&f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd := f.F64
		relative := false
		if v := r.URL.Query().Get("relative"); v != "" {
			relative, _ = strconv.ParseBool(v)
		}
		if relative {
			pos, err := l.C.GetPos()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			cmd += pos
		}
		if !l.Limits.Check(cmd) {
			http.Error(w, errClamped.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}
