package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
	"github.com/yadra-ai/workspace-gateway/internal/metrics"
)

// Record is one persisted artifact row. The backend writes these as a
// secondary source of truth; the gateway reads and merges them with the
// stream-derived projection.
type Record struct {
	ID         string          `json:"id"`
	TraceID    string          `json:"trace_id"`
	NodeName   string          `json:"node_name"`
	Type       string          `json:"type"`
	Mime       string          `json:"mime"`
	Summary    string          `json:"summary,omitempty"`
	PayloadURL string          `json:"payload_url,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Storage handles persistence of artifact records to PostgreSQL.
type Storage struct {
	logger *logger.Logger
	db     *sql.DB
}

// NewStorage creates a new database storage instance.
func NewStorage(log *logger.Logger, db *sql.DB) *Storage {
	log.WithComponent("artifact-storage").Info("artifact storage initialized")

	return &Storage{
		logger: log.WithComponent("artifact-storage"),
		db:     db,
	}
}

// SaveRecord inserts an artifact record. The id is generated when empty.
func (s *Storage) SaveRecord(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO artifact_records (id, trace_id, node_name, type, mime, summary, payload_url, user_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET summary = EXCLUDED.summary, payload_url = EXCLUDED.payload_url, metadata = EXCLUDED.metadata
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TraceID, rec.NodeName, rec.Type, rec.Mime,
		rec.Summary, rec.PayloadURL, rec.UserID, nullableJSON(rec.Metadata), rec.CreatedAt)
	if err != nil {
		s.logger.Error("failed to save artifact record",
			slog.String("trace_id", rec.TraceID),
			slog.String("artifact_id", rec.ID),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("failed to save artifact record: %w", err)
	}

	metrics.ArtifactRecords.WithLabelValues(rec.Type).Inc()
	s.logger.Debug("artifact record saved",
		slog.String("trace_id", rec.TraceID),
		slog.String("artifact_id", rec.ID),
		slog.String("type", rec.Type))

	return rec.ID, nil
}

// RecordsForTrace retrieves all artifact records for one trace, oldest
// first.
func (s *Storage) RecordsForTrace(ctx context.Context, traceID string) ([]Record, error) {
	query := `
		SELECT id, trace_id, node_name, type, mime, summary, payload_url, user_id, metadata, created_at
		FROM artifact_records
		WHERE trace_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, traceID)
	if err != nil {
		s.logger.Error("failed to query artifact records",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to query artifact records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var summary, payloadURL, userID sql.NullString
		var metadata []byte
		if err := rows.Scan(&rec.ID, &rec.TraceID, &rec.NodeName, &rec.Type, &rec.Mime,
			&summary, &payloadURL, &userID, &metadata, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact record: %w", err)
		}
		rec.Summary = summary.String
		rec.PayloadURL = payloadURL.String
		rec.UserID = userID.String
		rec.Metadata = metadata
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifact records: %w", err)
	}

	s.logger.Debug("retrieved artifact records",
		slog.String("trace_id", traceID),
		slog.Int("count", len(records)))

	return records, nil
}

// DeleteTrace removes all records for a trace, used when a workspace is
// destroyed.
func (s *Storage) DeleteTrace(ctx context.Context, traceID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM artifact_records WHERE trace_id = $1`, traceID)
	if err != nil {
		return fmt.Errorf("failed to delete artifact records: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		s.logger.Info("artifact records deleted",
			slog.String("trace_id", traceID),
			slog.Int64("rows_affected", n))
	}
	return nil
}

// CleanupOldRecords removes records older than the given age.
func (s *Storage) CleanupOldRecords(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)

	result, err := s.db.ExecContext(ctx, `DELETE FROM artifact_records WHERE created_at < $1`, cutoff)
	if err != nil {
		s.logger.Error("failed to cleanup old artifact records",
			slog.Duration("max_age", maxAge),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to cleanup old artifact records: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil {
		s.logger.Info("old artifact records cleaned up",
			slog.Int64("records_deleted", n),
			slog.Duration("max_age", maxAge))
	}
	return nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
