package diagnostics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the state of a probe or one of its components.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentStatus is the result of one readiness check.
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// ProbeResponse is the JSON body of /live and /ready.
type ProbeResponse struct {
	Status     Status            `json:"status"`
	Components []ComponentStatus `json:"components,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

// ReadinessCheck returns nil while the component can serve.
type ReadinessCheck func() error

// Probes answers liveness and readiness requests.
type Probes struct {
	mu       sync.RWMutex
	checks   map[string]ReadinessCheck
	draining atomic.Bool
}

// NewProbes returns Probes with no readiness checks.
func NewProbes() *Probes {
	return &Probes{checks: make(map[string]ReadinessCheck)}
}

// AddReadiness registers a named check evaluated on every /ready request.
func (p *Probes) AddReadiness(name string, check ReadinessCheck) {
	p.mu.Lock()
	p.checks[name] = check
	p.mu.Unlock()
}

// Drain makes both probes report down.
func (p *Probes) Drain() {
	p.draining.Store(true)
}

// Live reports whether the process is still serving.
func (p *Probes) Live(w http.ResponseWriter, _ *http.Request) {
	if p.draining.Load() {
		writeProbe(w, StatusDown, []ComponentStatus{drainingComponent})
		return
	}
	writeProbe(w, StatusUp, nil)
}

// Ready runs every readiness check; one failure makes the probe report down.
func (p *Probes) Ready(w http.ResponseWriter, _ *http.Request) {
	if p.draining.Load() {
		writeProbe(w, StatusDown, []ComponentStatus{drainingComponent})
		return
	}

	p.mu.RLock()
	names := make([]string, 0, len(p.checks))
	for name := range p.checks {
		names = append(names, name)
	}
	checks := make([]ReadinessCheck, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = p.checks[name]
	}
	p.mu.RUnlock()

	overall := StatusUp
	components := make([]ComponentStatus, len(names))
	for i, check := range checks {
		components[i] = ComponentStatus{Name: names[i], Status: StatusUp}
		if err := check(); err != nil {
			overall = StatusDown
			components[i].Status = StatusDown
			components[i].Message = err.Error()
		}
	}
	writeProbe(w, overall, components)
}

var drainingComponent = ComponentStatus{Name: "process", Status: StatusDown, Message: "shutting down"}

func writeProbe(w http.ResponseWriter, status Status, components []ComponentStatus) {
	code := http.StatusOK
	if status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, ProbeResponse{
		Status:     status,
		Components: components,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
