package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
)

// DetectRequest is the body of POST /api/v1/anomalies/detect.
type DetectRequest struct {
	Metric string                    `json:"metric"`
	Data   []anomaly.TimeSeriesPoint `json:"data"`
	Config *anomaly.Config           `json:"config,omitempty"`
}

// CreateDetectorRequest is the body of POST /api/v1/anomalies/detectors.
type CreateDetectorRequest struct {
	Metric string          `json:"metric"`
	Config *anomaly.Config `json:"config,omitempty"`
}

// CreateDetectorResponse carries the new detector's id and initial state.
type CreateDetectorResponse struct {
	ID       string                    `json:"id"`
	Detector *anomaly.DetectorSnapshot `json:"detector"`
}

// PointResponse is returned for every streamed point; Anomaly is null when
// the point is normal.
type PointResponse struct {
	Anomaly *anomaly.Anomaly `json:"anomaly"`
}

// SeriesResponse lists the stored history of one metric.
type SeriesResponse struct {
	Metric string                    `json:"metric"`
	Points []anomaly.TimeSeriesPoint `json:"points"`
}

// SeriesIndexResponse lists every metric with stored history.
type SeriesIndexResponse struct {
	Metrics []anomaly.MetricHistory `json:"metrics"`
}

// StatsResponse is the body of GET /api/v1/anomalies/stats.
type StatsResponse struct {
	anomaly.DetectorStats
	WebSocketClients int `json:"websocket_clients"`
}

// validateConfig rejects names the engine would not recognize. Empty fields
// are filled from defaults later.
func validateConfig(cfg *anomaly.Config) error {
	if cfg == nil {
		return nil
	}
	if cfg.Algorithm != "" {
		if _, err := anomaly.ParseAlgorithm(string(cfg.Algorithm)); err != nil {
			return err
		}
	}
	if cfg.Sensitivity != "" {
		if _, err := anomaly.ParseSensitivity(string(cfg.Sensitivity)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Metric == "" {
		writeError(w, http.StatusBadRequest, "metric is required")
		return
	}
	if err := validateConfig(req.Config); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.engine.DetectAnomalies(r.Context(), req.Metric, req.Data, req.Config)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.persist(r.Context(), req.Metric, modeBatch, res.Anomalies...)
	writeJSON(w, http.StatusOK, res)
}

// handleClearCache clears the whole cache, or one metric's entries when
// ?metric= is given.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if metric := r.URL.Query().Get("metric"); metric != "" {
		n := s.engine.InvalidateMetric(metric)
		writeJSON(w, http.StatusOK, map[string]any{"metric": metric, "invalidated": n})
		return
	}
	s.engine.ClearCache()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		DetectorStats:    s.engine.GetDetectorStats(),
		WebSocketClients: s.hub.clientCount(),
	})
}

func (s *Server) handleSeriesIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SeriesIndexResponse{Metrics: s.engine.HistoryIndex()})
}

// handleSeries returns a metric's stored history, optionally limited to
// RFC 3339 from/to bounds.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metric := r.PathValue("metric")
	writeJSON(w, http.StatusOK, SeriesResponse{Metric: metric, Points: s.engine.HistoricalRange(metric, from, to)})
}

func (s *Server) handleCreateDetector(w http.ResponseWriter, r *http.Request) {
	var req CreateDetectorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Metric == "" {
		writeError(w, http.StatusBadRequest, "metric is required")
		return
	}
	if err := validateConfig(req.Config); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := s.engine.CreateStreamingDetector(req.Metric, req.Config)
	snap, err := s.engine.GetStreamingDetector(id)
	if err != nil {
		// removed concurrently
		s.writeErr(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/anomalies/detectors/"+id)
	writeJSON(w, http.StatusCreated, CreateDetectorResponse{ID: id, Detector: snap})
}

func (s *Server) handleGetDetector(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetStreamingDetector(r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRemoveDetector(w http.ResponseWriter, r *http.Request) {
	s.engine.RemoveStreamingDetector(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProcessPoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var point anomaly.TimeSeriesPoint
	if err := decodeJSON(w, r, &point); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if point.Timestamp.IsZero() {
		point.Timestamp = s.clock.Now()
	}

	metric, err := s.engine.StreamingDetectorMetric(id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	a, err := s.engine.ProcessStreamingPoint(id, point)
	if errors.Is(err, anomaly.ErrDetectorNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("detector %s was removed", id))
		return
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	if a != nil {
		s.persist(r.Context(), metric, modeStreaming, *a)
		s.hub.broadcast(StreamEvent{
			Type:       EventAnomaly,
			DetectorID: id,
			Metric:     metric,
			Anomaly:    a,
			Timestamp:  s.clock.Now().UTC(),
		})
		s.logger.Debug("streaming anomaly broadcast",
			zap.String("detector_id", id),
			zap.String("severity", string(a.Severity)),
		)
	}
	writeJSON(w, http.StatusOK, PointResponse{Anomaly: a})
}

// parseTimeParam reads an RFC 3339 query parameter; empty means zero.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: expected RFC 3339 timestamp", name)
	}
	return t, nil
}
