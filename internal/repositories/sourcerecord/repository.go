// Package sourcerecord persists as-ingested rows from external systems.
package sourcerecord

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

const table = "source_records"

var columns = []string{
	"id", "source_system", "source_record_id", "raw_name", "raw_phone", "raw_email",
	"raw_address", "content_hash", "first_seen_at", "last_seen_at", "observation_count",
	"created_at", "updated_at", "deleted_at",
}

// Repository handles source record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new source record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying handle so callers can open transactions.
func (r *Repository) DB() database.DB {
	return r.db
}

// Upsert records an observation of a source row. New rows are inserted;
// existing rows refresh last_seen_at, content_hash, the raw fields, and bump
// observation_count. The natural key is (source_system, source_record_id).
func (r *Repository) Upsert(ctx context.Context, rec *models.SourceRecord) (*models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.Upsert")
	defer span.End()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.FirstSeenAt.IsZero() {
		rec.FirstSeenAt = now
	}
	if rec.LastSeenAt.IsZero() {
		rec.LastSeenAt = now
	}
	if rec.ObservationCount < 1 {
		rec.ObservationCount = 1
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("id", "source_system", "source_record_id", "raw_name", "raw_phone", "raw_email",
		"raw_address", "content_hash", "first_seen_at", "last_seen_at", "observation_count",
		"created_at", "updated_at")
	sb.Values(rec.ID, rec.SourceSystem, rec.SourceRecordID, rec.RawName, rec.RawPhone, rec.RawEmail,
		rec.RawAddress, rec.ContentHash, rec.FirstSeenAt, rec.LastSeenAt, rec.ObservationCount,
		rec.CreatedAt, rec.UpdatedAt)

	query, args := sb.Build()
	query += ` ON CONFLICT (source_system, source_record_id) DO UPDATE SET
		raw_name = EXCLUDED.raw_name,
		raw_phone = EXCLUDED.raw_phone,
		raw_email = EXCLUDED.raw_email,
		raw_address = EXCLUDED.raw_address,
		content_hash = EXCLUDED.content_hash,
		last_seen_at = GREATEST(source_records.last_seen_at, EXCLUDED.last_seen_at),
		observation_count = source_records.observation_count + 1,
		updated_at = EXCLUDED.updated_at
		RETURNING ` + joinColumns()

	var saved models.SourceRecord
	if err := r.db.GetContext(ctx, &saved, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source_key": rec.Key().String()}).Error("Failed to upsert source record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert source record")
	}

	return &saved, nil
}

// GetByKey retrieves a source record by its natural key.
func (r *Repository) GetByKey(ctx context.Context, sourceSystem, sourceRecordID string) (*models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.GetByKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("source_system", sourceSystem),
		sb.Equal("source_record_id", sourceRecordID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var rec models.SourceRecord
	if err := r.db.GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("source record %s:%s not found", sourceSystem, sourceRecordID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get source record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get source record")
	}

	return &rec, nil
}

// ListFilter narrows a List call.
type ListFilter struct {
	SourceSystem string
	Search       string // matches raw_name, raw_email, raw_phone
	Limit        int
	Offset       int
}

// List retrieves source records, newest observations first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.List")
	defer span.End()

	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.IsNull("deleted_at"))
	if filter.SourceSystem != "" {
		sb.Where(sb.Equal("source_system", filter.SourceSystem))
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		sb.Where(sb.Or(
			sb.ILike("raw_name", pattern),
			sb.ILike("raw_email", pattern),
			sb.ILike("raw_phone", pattern),
		))
	}
	sb.OrderBy("last_seen_at DESC")
	sb.Limit(filter.Limit)
	sb.Offset(filter.Offset)

	query, args := sb.Build()
	records := []models.SourceRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list source records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list source records")
	}

	return records, nil
}

// ListUnlinked retrieves records in a source system that have no active
// entity link and no historical marker. This is the candidate generator's
// work queue; id keyset paging keeps repeated passes cheap.
func (r *Repository) ListUnlinked(ctx context.Context, sourceSystem string, afterID string, limit int) ([]models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.ListUnlinked")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = 200
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(prefixColumns("sr")...)
	sb.From(table + " sr")
	sb.Where(
		sb.IsNull("sr.deleted_at"),
		"NOT EXISTS (SELECT 1 FROM entity_links el WHERE el.source_system = sr.source_system AND el.source_record_id = sr.source_record_id AND el.is_active = TRUE)",
		"NOT EXISTS (SELECT 1 FROM historical_markers hm WHERE hm.source_system = sr.source_system AND hm.source_record_id = sr.source_record_id)",
	)
	if sourceSystem != "" {
		sb.Where(sb.Equal("sr.source_system", sourceSystem))
	}
	if afterID != "" {
		sb.Where(sb.GreaterThan("sr.id", afterID))
	}
	sb.OrderBy("sr.id ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	records := []models.SourceRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source_system": sourceSystem}).Error("Failed to list unlinked source records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list unlinked source records")
	}

	return records, nil
}

func joinColumns() string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func prefixColumns(alias string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = alias + "." + c
	}
	return out
}
