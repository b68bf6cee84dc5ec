package server

// Anomaly history routes, backed by internal/db:
//   GET /api/v1/anomalies/history          → query (metric/severity/algorithm/mode/from/to/limit/offset)
//   GET /api/v1/anomalies/history/summary  → severity counts (metric/from/to)
//   GET /api/v1/anomalies/history/{id}     → single anomaly

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/db"
	"github.com/kubilitics/kubilitics-anomaly/internal/metrics"
)

const (
	modeBatch     = "batch"
	modeStreaming = "streaming"

	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// anomalyMetadata is stored in the metadata column.
type anomalyMetadata struct {
	Recommendations []string         `json:"recommendations,omitempty"`
	Context         *anomaly.Context `json:"context,omitempty"`
}

func toRecord(metric, mode string, a anomaly.Anomaly) *db.AnomalyRecord {
	meta, _ := json.Marshal(anomalyMetadata{Recommendations: a.Recommendations, Context: a.Context})
	return &db.AnomalyRecord{
		ID:            a.ID,
		Metric:        metric,
		Algorithm:     string(a.Algorithm),
		Type:          string(a.Type),
		Severity:      string(a.Severity),
		Mode:          mode,
		Value:         a.Value,
		ExpectedValue: a.ExpectedValue,
		Score:         a.Score,
		Confidence:    a.Confidence,
		Explanation:   a.Explanation,
		Metadata:      string(meta),
		DetectedAt:    a.Timestamp,
	}
}

// persist records anomalies when a store is configured. Failures are logged
// and counted; they never fail the detection request.
func (s *Server) persist(ctx context.Context, metric, mode string, anomalies ...anomaly.Anomaly) {
	if s.store == nil || len(anomalies) == 0 {
		return
	}
	recs := make([]*db.AnomalyRecord, len(anomalies))
	for i, a := range anomalies {
		recs[i] = toRecord(metric, mode, a)
	}
	n, err := s.store.RecordAnomalies(ctx, recs)
	if err != nil {
		metrics.PersistenceErrorsTotal.Inc()
		s.logger.Warn("failed to persist anomalies",
			zap.String("metric", metric),
			zap.Int("count", len(recs)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("anomalies persisted", zap.String("metric", metric), zap.Int("new", n))
}

// pruneLoop deletes anomalies older than the retention window once at start
// and then hourly until the server stops.
func (s *Server) pruneLoop(retention time.Duration) {
	defer s.wg.Done()
	ticker := s.clock.Ticker(time.Hour)
	defer ticker.Stop()

	s.prune(retention)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.prune(retention)
		}
	}
}

func (s *Server) prune(retention time.Duration) {
	cutoff := s.clock.Now().Add(-retention)
	n, err := s.store.PruneAnomalies(s.ctx, cutoff)
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("failed to prune anomaly history", zap.Error(err))
		}
		return
	}
	if n > 0 {
		metrics.AnomaliesPrunedTotal.Add(float64(n))
		s.logger.Info("pruned anomaly history", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "anomaly persistence is disabled")
		return false
	}
	return true
}

// historyQuery parses the shared filter parameters.
func historyQuery(r *http.Request) (db.AnomalyQuery, error) {
	q := r.URL.Query()
	out := db.AnomalyQuery{
		Metric:    q.Get("metric"),
		Algorithm: q.Get("algorithm"),
		Severity:  q.Get("severity"),
		Mode:      q.Get("mode"),
		Limit:     defaultHistoryLimit,
	}
	var err error
	if out.From, err = parseTimeParam(r, "from"); err != nil {
		return out, err
	}
	if out.To, err = parseTimeParam(r, "to"); err != nil {
		return out, err
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return out, errBadParam("limit")
		}
		out.Limit = min(n, maxHistoryLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return out, errBadParam("offset")
		}
		out.Offset = n
	}
	return out, nil
}

type errBadParam string

func (e errBadParam) Error() string { return "invalid " + string(e) }

// HistoryResponse is the body of GET /api/v1/anomalies/history.
type HistoryResponse struct {
	Anomalies []*db.AnomalyRecord `json:"anomalies"`
	Count     int                 `json:"count"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
}

func (s *Server) handleHistoryQuery(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q, err := historyQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.store.QueryAnomalies(r.Context(), q)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Anomalies: recs, Count: len(recs), Limit: q.Limit, Offset: q.Offset})
}

// SummaryResponse is the body of GET /api/v1/anomalies/history/summary.
type SummaryResponse struct {
	Metric     string         `json:"metric,omitempty"`
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
}

func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q, err := historyQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := s.store.AnomalySummary(r.Context(), q)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Metric: q.Metric, Total: total, BySeverity: counts})
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	rec, err := s.store.GetAnomaly(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
