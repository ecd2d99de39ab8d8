package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/benmeehan/fleet-monitor/internal/assignments"
	"github.com/benmeehan/fleet-monitor/internal/commands"
	"github.com/benmeehan/fleet-monitor/internal/constants"
	"github.com/benmeehan/fleet-monitor/internal/ingest"
	"github.com/benmeehan/fleet-monitor/internal/metrics_collectors"
	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/benmeehan/fleet-monitor/internal/persistence"
	"github.com/benmeehan/fleet-monitor/internal/projection"
	"github.com/benmeehan/fleet-monitor/pkg/mqtt"
)

// registerRoutes wires all routes into the server mux.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /ws", s.sockets.handle)

	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	s.mux.HandleFunc("GET /api/devices", s.handleListDevices)
	s.mux.HandleFunc("GET /api/devices/{id}", s.handleGetDevice)
	s.mux.HandleFunc("GET /api/devices/{id}/series", s.handleDeviceSeries)
	s.mux.HandleFunc("POST /api/devices/{id}/commands", s.handleSendCommand)
	s.mux.HandleFunc("PUT /api/devices/{id}/name", s.handleRenameDevice)
	s.mux.HandleFunc("PUT /api/devices/{id}/customer", s.handleAssignDevice)

	s.mux.HandleFunc("GET /api/data", s.handleGetData)
	s.mux.HandleFunc("POST /api/data", s.handleReplaceData)
}

type statusResponse struct {
	MQTT        mqtt.Status                `json:"mqtt"`
	Summary     projection.Summary         `json:"summary"`
	Ingest      ingestStats                `json:"ingest"`
	Persistence *persistence.DispatchStats `json:"persistence,omitempty"`
}

type ingestStats struct {
	ingest.StatsSnapshot
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

type commandRequest struct {
	Command string `json:"command"`
	Arg     string `json:"arg"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type assignRequest struct {
	CustomerID string `json:"customer_id"`
}

type seriesResponse struct {
	DeviceID string             `json:"device_id"`
	Keys     []string           `json:"keys"`
	Points   []projection.Point `json:"points"`
}

// handleHealthz is a liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics exports every registered collector in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := metrics_collectors.WriteText(w, s.deps.Metrics.Gather(r.Context())); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write metrics")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Fleet.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	stats := s.deps.Fleet.Stats()
	resp := statusResponse{
		MQTT:    s.deps.Transport.Status(),
		Summary: projection.Summarize(projection.Augment(snap, s.deps.Assignments.Assignments())),
		Ingest: ingestStats{
			StatsSnapshot: stats,
			Accepted:      stats.Accepted(),
			Rejected:      stats.Rejected(),
		},
	}
	if s.deps.Dispatcher != nil {
		ds := s.deps.Dispatcher.Stats()
		resp.Persistence = &ds
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	views, err := s.listDevices(r, filter)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	view, ok := s.deviceView(w, r)
	if !ok {
		return
	}
	view.MessageHistory = projection.FilterHistory(view.MessageHistory, r.URL.Query().Get("topic"))
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeviceSeries(w http.ResponseWriter, r *http.Request) {
	view, ok := s.deviceView(w, r)
	if !ok {
		return
	}

	keys, err := seriesKeys(r.URL.Query().Get("keys"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points := projection.Series(view.MessageHistory, keys)
	if points == nil {
		points = []projection.Point{}
	}
	writeJSON(w, http.StatusOK, seriesResponse{DeviceID: view.ID, Keys: keys, Points: points})
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	cmd, err := commands.Parse(req.Command, req.Arg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch err := s.deps.Commands.Send(id, cmd); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"device_id": id, "command": cmd.Payload()})
	case errors.Is(err, commands.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, mqtt.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := s.deps.Assignments.Rename(r.PathValue("id"), req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignDevice(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	err := s.deps.Assignments.Assign(r.PathValue("id"), req.CustomerID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, assignments.ErrInvalidData):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleGetData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Assignments.Data())
}

func (s *Server) handleReplaceData(w http.ResponseWriter, r *http.Request) {
	var data models.AssignmentData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data structure")
		return
	}

	err := s.deps.Assignments.Replace(data)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Data saved successfully"})
	case errors.Is(err, assignments.ErrInvalidData):
		writeError(w, http.StatusBadRequest, "Invalid data structure")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// deviceView loads one augmented device or writes the error response.
func (s *Server) deviceView(w http.ResponseWriter, r *http.Request) (models.DeviceView, bool) {
	id := r.PathValue("id")

	rec, found, err := s.deps.Fleet.Device(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return models.DeviceView{}, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "device not found: "+id)
		return models.DeviceView{}, false
	}

	views := projection.Augment(models.FleetSnapshot{id: rec}, s.deps.Assignments.Assignments())
	return views[0], true
}

func (s *Server) listDevices(r *http.Request, filter projection.Filter) ([]models.DeviceView, error) {
	snap, err := s.deps.Fleet.Snapshot(r.Context())
	if err != nil {
		return nil, err
	}

	views := projection.List(snap, s.deps.Assignments.Assignments(), filter)
	return projection.WithoutHistory(views), nil
}

func filterFromQuery(r *http.Request) (projection.Filter, error) {
	q := r.URL.Query()
	filter := projection.Filter{
		Role:       q.Get("role"),
		CustomerID: q.Get("customer"),
		Query:      q.Get("q"),
	}

	switch filter.Role {
	case "":
		filter.Role = constants.RoleAdmin
	case constants.RoleAdmin, constants.RoleCustomer:
	default:
		return projection.Filter{}, errors.New("role must be admin or customer")
	}
	return filter, nil
}

func seriesKeys(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return models.TelemetryKeys, nil
	}

	known := make(map[string]bool, len(models.TelemetryKeys))
	for _, k := range models.TelemetryKeys {
		known[k] = true
	}

	var keys []string
	for _, k := range strings.Split(raw, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if !known[k] {
			return nil, errors.New("unknown telemetry key: " + k)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
