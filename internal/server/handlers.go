package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkoay/godaikin-bridge/internal/device"
	"github.com/jkoay/godaikin-bridge/internal/moldproof"
)

// UnitSource reads registered units. Satisfied by *registry.Registry.
type UnitSource interface {
	Snapshot() []device.Device
	Get(id device.ID) (device.Device, error)
}

// CycleStatus inspects the drying cycle. Satisfied by *moldproof.Scheduler.
type CycleStatus interface {
	Enabled(id device.ID) bool
	Status(id device.ID) (moldproof.Stage, time.Duration)
}

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

type unitView struct {
	ID           device.ID           `json:"id"`
	Name         string              `json:"name"`
	Model        string              `json:"model,omitempty"`
	Connected    bool                `json:"connected"`
	LastSyncedAt time.Time           `json:"last_synced_at"`
	State        device.State        `json:"state"`
	Capabilities device.Capabilities `json:"capabilities"`
	MoldProof    moldProofView       `json:"mold_proof"`
}

type moldProofView struct {
	Enabled    bool   `json:"enabled"`
	Stage      string `json:"stage"`
	RemainingS int64  `json:"remaining_s"`
}

func viewFor(dev device.Device, cycles CycleStatus) unitView {
	stage, remaining := cycles.Status(dev.ID)
	return unitView{
		ID:           dev.ID,
		Name:         dev.Name,
		Model:        dev.Model,
		Connected:    dev.Connected,
		LastSyncedAt: dev.LastSyncedAt,
		State:        dev.State,
		Capabilities: dev.Capabilities,
		MoldProof: moldProofView{
			Enabled:    cycles.Enabled(dev.ID),
			Stage:      string(stage),
			RemainingS: int64(remaining.Seconds()),
		},
	}
}

// UnitsHandler lists every registered unit with its live state.
func UnitsHandler(units UnitSource, cycles CycleStatus) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		views := make([]unitView, 0)
		for _, dev := range units.Snapshot() {
			views = append(views, viewFor(dev, cycles))
		}
		writeJSON(w, views)
	})
}

// UnitHandler returns one unit by id.
func UnitHandler(units UnitSource, cycles CycleStatus) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dev, err := units.Get(device.ID(r.PathValue("id")))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, viewFor(dev, cycles))
	})
}

// NewMux wires the full introspection surface.
func NewMux(registry *prometheus.Registry, units UnitSource, cycles CycleStatus) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HealthHandler)
	mux.Handle("/metrics", MetricsHandler(registry))
	mux.Handle("GET /v1/units", UnitsHandler(units, cycles))
	mux.Handle("GET /v1/units/{id}", UnitHandler(units, cycles))
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
