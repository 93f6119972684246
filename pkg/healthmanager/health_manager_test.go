package healthmanager

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type readyFunc func() bool

func (f readyFunc) Ready() bool { return f() }

func TestProbes(t *testing.T) {
	tests := []struct {
		name      string
		readiness ReadinessChecker
		path      string
		want      int
	}{
		{name: "liveness", path: "/livez", want: http.StatusOK},
		{name: "no checker", path: "/readyz", want: http.StatusInternalServerError},
		{name: "not ready", readiness: readyFunc(func() bool { return false }), path: "/readyz", want: http.StatusInternalServerError},
		{name: "ready", readiness: readyFunc(func() bool { return true }), path: "/readyz", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthManager(0)
			if tt.readiness != nil {
				h.SetReadinessChecker(tt.readiness)
			}
			rec := httptest.NewRecorder()
			h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
