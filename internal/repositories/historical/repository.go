// Package historical persists historical-only markers: explicit decisions
// that a source record must never be auto-linked.
package historical

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "historical_markers"

var columns = []string{
	"id", "source_system", "source_record_id", "reason", "forced",
	"bucket_at_marking", "kind_at_marking", "created_by", "created_at",
}

// Repository handles historical marker persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new historical marker repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a marker. A second marker for the same source record is a
// conflict; unmark first.
func (r *Repository) Create(ctx context.Context, m *models.HistoricalMarker) (*models.HistoricalMarker, error) {
	ctx, span := tracing.StartSpan(ctx, "historical.Repository.Create")
	defer span.End()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(m.ID, m.SourceSystem, m.SourceRecordID, m.Reason, m.Forced,
		m.BucketAtMarking, m.KindAtMarking, m.CreatedBy, m.CreatedAt)

	query, args := sb.Build()
	query += " ON CONFLICT (source_system, source_record_id) DO NOTHING"

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source_system": m.SourceSystem, "source_record_id": m.SourceRecordID}).Error("Failed to create historical marker")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create historical marker")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create historical marker")
	}
	if rows == 0 {
		return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("source record %s:%s is already marked historical", m.SourceSystem, m.SourceRecordID))
	}

	return m, nil
}

// GetByKey retrieves the marker for a source record, or a 404.
func (r *Repository) GetByKey(ctx context.Context, sourceSystem, sourceRecordID string) (*models.HistoricalMarker, error) {
	ctx, span := tracing.StartSpan(ctx, "historical.Repository.GetByKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("source_system", sourceSystem),
		sb.Equal("source_record_id", sourceRecordID),
	)

	query, args := sb.Build()
	var m models.HistoricalMarker
	if err := r.db.GetContext(ctx, &m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no historical marker for %s:%s", sourceSystem, sourceRecordID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get historical marker")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get historical marker")
	}

	return &m, nil
}

// Exists reports whether the source record carries a marker.
func (r *Repository) Exists(ctx context.Context, sourceSystem, sourceRecordID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "historical.Repository.Exists")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(1)")
	sb.From(table)
	sb.Where(
		sb.Equal("source_system", sourceSystem),
		sb.Equal("source_record_id", sourceRecordID),
	)

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check historical marker")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check historical marker")
	}

	return count > 0, nil
}

// Delete removes a marker. Unmarking is permitted; the record simply rejoins
// the candidate pool on the next generation pass.
func (r *Repository) Delete(ctx context.Context, sourceSystem, sourceRecordID string) error {
	ctx, span := tracing.StartSpan(ctx, "historical.Repository.Delete")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(
		db.Equal("source_system", sourceSystem),
		db.Equal("source_record_id", sourceRecordID),
	)

	query, args := db.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete historical marker")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete historical marker")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete historical marker")
	}
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no historical marker for %s:%s", sourceSystem, sourceRecordID))
	}

	return nil
}

// List retrieves markers, newest first.
func (r *Repository) List(ctx context.Context, sourceSystem string, limit, offset int) ([]models.HistoricalMarker, error) {
	ctx, span := tracing.StartSpan(ctx, "historical.Repository.List")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	if sourceSystem != "" {
		sb.Where(sb.Equal("source_system", sourceSystem))
	}
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)
	sb.Offset(offset)

	query, args := sb.Build()
	markers := []models.HistoricalMarker{}
	if err := r.db.SelectContext(ctx, &markers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list historical markers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list historical markers")
	}

	return markers, nil
}
