// Package matchcandidate persists generated match candidates and their
// review lifecycle.
package matchcandidate

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

const table = "match_candidates"

var columns = []string{
	"id", "source_system", "source_record_id", "candidate_entity_id", "entity_type",
	"confidence", "tier", "evidence", "status", "created_at", "updated_at",
	"resolved_at", "resolved_by", "resolution_note",
}

// Repository handles match candidate persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match candidate repository
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

// UpsertBatch writes generated candidates. Regeneration is idempotent: an
// existing open candidate for the same (source record, entity) pair keeps its
// row id and gets its confidence, tier, and evidence refreshed; resolved
// candidates are left alone so review decisions stick. Each candidate comes
// back carrying its persisted id, or an empty id when the pair was already
// resolved and the write skipped it.
func (r *Repository) UpsertBatch(ctx context.Context, candidates []*models.MatchCandidate) error {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.UpsertBatch")
	defer span.End()

	if len(candidates) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("id", "source_system", "source_record_id", "candidate_entity_id", "entity_type",
		"confidence", "tier", "evidence", "status", "created_at", "updated_at")
	for _, c := range candidates {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.Status == "" {
			c.Status = models.MatchCandidateStatusOpen
		}
		c.CreatedAt = now
		c.UpdatedAt = now
		sb.Values(c.ID, c.SourceSystem, c.SourceRecordID, c.CandidateEntityID, c.EntityType,
			c.Confidence, c.Tier, c.Evidence, c.Status, c.CreatedAt, c.UpdatedAt)
	}

	query, args := sb.Build()
	query += ` ON CONFLICT (source_system, source_record_id, candidate_entity_id) DO UPDATE SET
		confidence = EXCLUDED.confidence,
		tier = EXCLUDED.tier,
		evidence = EXCLUDED.evidence,
		updated_at = EXCLUDED.updated_at
		WHERE match_candidates.status = 'open'
		RETURNING id, source_system, source_record_id, candidate_entity_id`

	written := []upsertedRow{}
	if err := r.db.SelectContext(ctx, &written, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert match candidates")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert match candidates")
	}
	assignUpsertedIDs(candidates, written)

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(written)}).Debug("Upserted match candidates")
	return nil
}

type upsertedRow struct {
	ID                string `db:"id"`
	SourceSystem      string `db:"source_system"`
	SourceRecordID    string `db:"source_record_id"`
	CandidateEntityID string `db:"candidate_entity_id"`
}

// assignUpsertedIDs maps the RETURNING rows back onto the in-memory batch by
// natural key. A conflict against a resolved row returns nothing, so that
// candidate's id is cleared rather than left pointing at a row that was never
// written.
func assignUpsertedIDs(candidates []*models.MatchCandidate, written []upsertedRow) {
	ids := make(map[string]string, len(written))
	for _, row := range written {
		ids[pairKey(row.SourceSystem, row.SourceRecordID, row.CandidateEntityID)] = row.ID
	}
	for _, c := range candidates {
		c.ID = ids[pairKey(c.SourceSystem, c.SourceRecordID, c.CandidateEntityID)]
	}
}

func pairKey(sourceSystem, sourceRecordID, entityID string) string {
	return sourceSystem + "\x00" + sourceRecordID + "\x00" + entityID
}

// Get retrieves a match candidate by ID.
func (r *Repository) Get(ctx context.Context, id string) (*models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var candidate models.MatchCandidate
	if err := r.db.GetContext(ctx, &candidate, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match candidate %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match candidate")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match candidate")
	}

	return &candidate, nil
}

// ListFilter narrows a List call.
type ListFilter struct {
	Status       string
	Tier         *models.MatchTier
	SourceSystem string
	EntityID     string
	Limit        int
	Offset       int
}

// List retrieves candidates in review order: most confident tier first,
// highest confidence inside a tier, oldest first on ties. Reviewers always
// see the easiest decisions at the top of the queue.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.List")
	defer span.End()

	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	if filter.Status != "" {
		sb.Where(sb.Equal("status", filter.Status))
	}
	if filter.Tier != nil {
		sb.Where(sb.Equal("tier", *filter.Tier))
	}
	if filter.SourceSystem != "" {
		sb.Where(sb.Equal("source_system", filter.SourceSystem))
	}
	if filter.EntityID != "" {
		sb.Where(sb.Equal("candidate_entity_id", filter.EntityID))
	}
	sb.OrderBy("tier ASC", "confidence DESC", "created_at ASC")
	sb.Limit(filter.Limit)
	sb.Offset(filter.Offset)

	query, args := sb.Build()
	candidates := []models.MatchCandidate{}
	if err := r.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list match candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match candidates")
	}

	return candidates, nil
}

// ListOpenBySource retrieves the open candidates for one source record.
func (r *Repository) ListOpenBySource(ctx context.Context, sourceSystem, sourceRecordID string) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.ListOpenBySource")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("source_system", sourceSystem),
		sb.Equal("source_record_id", sourceRecordID),
		sb.Equal("status", models.MatchCandidateStatusOpen),
	)
	sb.OrderBy("tier ASC", "confidence DESC")

	query, args := sb.Build()
	candidates := []models.MatchCandidate{}
	if err := r.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list candidates for source record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match candidates")
	}

	return candidates, nil
}

// Resolve transitions an open candidate to a terminal status. Resolving a
// candidate that is no longer open is a conflict, not a repeat: terminal
// states never change.
func (r *Repository) Resolve(ctx context.Context, id, status, resolvedBy string, note *string) error {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.Resolve")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("resolved_at", now),
		ub.Assign("resolved_by", resolvedBy),
		ub.Assign("resolution_note", note),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.MatchCandidateStatusOpen),
	)

	query, args := ub.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"candidate_id": id}).Error("Failed to resolve match candidate")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve match candidate")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve match candidate")
	}
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("match candidate %s is already resolved", id))
	}

	return nil
}

// SupersedeSiblings marks every other open candidate for the same source
// record superseded. Called when one candidate is accepted: the source
// record is linked now, the remaining proposals are moot.
func (r *Repository) SupersedeSiblings(ctx context.Context, sourceSystem, sourceRecordID, acceptedID, resolvedBy string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.SupersedeSiblings")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("status", models.MatchCandidateStatusSuperseded),
		ub.Assign("resolved_at", now),
		ub.Assign("resolved_by", resolvedBy),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("source_system", sourceSystem),
		ub.Equal("source_record_id", sourceRecordID),
		ub.Equal("status", models.MatchCandidateStatusOpen),
		ub.NotEqual("id", acceptedID),
	)

	query, args := ub.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to supersede sibling candidates")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to supersede candidates")
	}
	rows, _ := res.RowsAffected()

	return rows, nil
}

// CountByStatus returns candidate counts grouped by status, for the queue
// summary endpoint.
func (r *Repository) CountByStatus(ctx context.Context) (map[string]int, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.CountByStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("status", "COUNT(1) AS count")
	sb.From(table)
	sb.GroupBy("status")

	query, args := sb.Build()
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count match candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count match candidates")
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}
