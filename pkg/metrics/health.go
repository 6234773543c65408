package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// The core registers its long-lived components here once they are up; the
// HTTP handlers below expose the aggregate. RegisterComponent doubles as
// the update call: re-registering a name overwrites its state.

// criticalComponents must all be registered healthy before the core
// reports ready
var criticalComponents = []string{"store", "dispatcher", "pulse"}

type componentState struct {
	healthy bool
	message string
	updated time.Time
}

type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]componentState
	version    string
	started    time.Time
}

var registry = &healthRegistry{
	components: make(map[string]componentState),
	started:    time.Now(),
}

// SetVersion sets the version string reported by the health endpoints
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// RegisterComponent records the state of one component
func RegisterComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.components[name] = componentState{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// HealthStatus is the JSON shape of the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime"`
}

// GetHealth reports unhealthy if any registered component is unhealthy
func GetHealth() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	out := registry.newStatus("healthy")
	for name, comp := range registry.components {
		if comp.healthy {
			out.Components[name] = "healthy"
			continue
		}
		out.Status = "unhealthy"
		out.Components[name] = "unhealthy: " + comp.message
	}
	return out
}

// GetReadiness reports ready only once every critical component is
// registered and healthy
func GetReadiness() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	out := registry.newStatus("ready")
	for _, name := range criticalComponents {
		comp, ok := registry.components[name]
		switch {
		case !ok:
			out.Status = "not_ready"
			out.Message = "waiting for " + name
			out.Components[name] = "not registered"
		case !comp.healthy:
			out.Status = "not_ready"
			out.Message = "waiting for " + name
			out.Components[name] = "not ready: " + comp.message
		default:
			out.Components[name] = "ready"
		}
	}
	return out
}

// newStatus is called with the registry lock held
func (r *healthRegistry) newStatus(status string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Components: make(map[string]string),
		Version:    r.version,
		Uptime:     time.Since(r.started).String(),
	}
}

// HealthHandler serves the /health endpoint
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// ReadyHandler serves the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, readiness)
	}
}

// LivenessHandler serves the /live endpoint; it answers as long as the
// process does
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(registry.started).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
