package monitor

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/radryc/nvmeof-mon/internal/gwmap"
)

// API exposes the monitor's admin and inspection surface over HTTP.
type API struct {
	mon *Monitor
}

// NewAPI creates the HTTP surface for a monitor.
func NewAPI(mon *Monitor) *API {
	return &API{mon: mon}
}

// Router builds the route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/gateways", a.handleAddGateway).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/groups/{pool}/{group}/gateways/{gw}", a.handleDeleteGateway).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/groups/{pool}/{group}/view", a.handleView).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/beacons", a.handleBeacon).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/map", a.handleMapDump).Methods(http.MethodGet)
	return r
}

type addGatewayRequest struct {
	Pool      string `json:"pool"`
	Group     string `json:"group"`
	GatewayID string `json:"gw_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"instance_id": a.mon.InstanceID(),
		"cluster_id":  a.mon.cfg.ClusterID,
		"map_version": a.mon.Version(),
	})
}

func (a *API) handleAddGateway(w http.ResponseWriter, r *http.Request) {
	var req addGatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Pool == "" || req.Group == "" || req.GatewayID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "pool, group and gw_id are required"})
		return
	}

	key := gwmap.GroupKey{Pool: req.Pool, Group: req.Group}
	err := a.mon.AddGateway(req.GatewayID, key)
	switch {
	case errors.Is(err, gwmap.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, gwmap.ErrNoAnaGroupID):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusCreated, map[string]string{
			"pool":  req.Pool,
			"group": req.Group,
			"gw_id": req.GatewayID,
		})
	}
}

func (a *API) handleDeleteGateway(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := gwmap.GroupKey{Pool: vars["pool"], Group: vars["group"]}
	err := a.mon.DeleteGateway(vars["gw"], key)
	switch {
	case errors.Is(err, gwmap.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleView(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := gwmap.GroupKey{Pool: vars["pool"], Group: vars["group"]}
	view := a.mon.ExportedGroup(key)
	if view == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown group " + key.String()})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleBeacon(w http.ResponseWriter, r *http.Request) {
	var b gwmap.Beacon
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if b.GatewayID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "gw_id is required"})
		return
	}
	// Beacons from unregistered gateways are dropped, not an error.
	a.mon.HandleBeacon(&b)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"registered": a.mon.gatewayRegistered(b.Key(), b.GatewayID),
	})
}

func (a *API) handleMapDump(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.mon.Dump())
}

// gatewayRegistered reports whether the gateway exists in the registry.
func (m *Monitor) gatewayRegistered(key gwmap.GroupKey, gw string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gwMap.Gateway(key, gw) != nil
}
