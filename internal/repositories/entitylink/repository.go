// Package entitylink persists the registry mapping source records to
// canonical entities. Links are superseded, never deleted; the registry is
// also the audit trail of who resolved what.
package entitylink

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
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "entity_links"

var columns = []string{
	"id", "source_system", "source_record_id", "entity_type", "entity_id",
	"link_method", "confidence", "is_active", "superseded_by_link_id",
	"created_by", "created_at", "updated_at",
}

// Repository handles entity link persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity link repository
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

// Create inserts an active link. The partial unique index on
// (source_system, source_record_id, entity_type) WHERE is_active rejects a
// second active link for the same source record; that comes back as a 409.
func (r *Repository) Create(ctx context.Context, link *models.EntityLink) (*models.EntityLink, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylink.Repository.Create")
	defer span.End()

	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	link.IsActive = true
	link.CreatedAt = time.Now().UTC()
	link.UpdatedAt = link.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("id", "source_system", "source_record_id", "entity_type", "entity_id",
		"link_method", "confidence", "is_active", "created_by", "created_at", "updated_at")
	sb.Values(link.ID, link.SourceSystem, link.SourceRecordID, link.EntityType, link.EntityID,
		link.LinkMethod, link.Confidence, link.IsActive, link.CreatedBy, link.CreatedAt, link.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("source record %s:%s already has an active link", link.SourceSystem, link.SourceRecordID))
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source_system": link.SourceSystem, "source_record_id": link.SourceRecordID}).Error("Failed to create entity link")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create entity link")
	}

	return link, nil
}

// GetActiveBySource retrieves the active link for a source record, or a 404.
func (r *Repository) GetActiveBySource(ctx context.Context, sourceSystem, sourceRecordID string, entityType models.EntityType) (*models.EntityLink, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylink.Repository.GetActiveBySource")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("source_system", sourceSystem),
		sb.Equal("source_record_id", sourceRecordID),
		sb.Equal("entity_type", entityType),
		sb.Equal("is_active", true),
	)

	query, args := sb.Build()
	var link models.EntityLink
	if err := r.db.GetContext(ctx, &link, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no active link for %s:%s", sourceSystem, sourceRecordID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get entity link")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity link")
	}

	return &link, nil
}

// HasActiveLink reports whether the source record is already linked.
func (r *Repository) HasActiveLink(ctx context.Context, sourceSystem, sourceRecordID string, entityType models.EntityType) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylink.Repository.HasActiveLink")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(1)")
	sb.From(table)
	sb.Where(
		sb.Equal("source_system", sourceSystem),
		sb.Equal("source_record_id", sourceRecordID),
		sb.Equal("entity_type", entityType),
		sb.Equal("is_active", true),
	)

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check entity link")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check entity link")
	}

	return count > 0, nil
}

// ListActiveByEntity retrieves active links pointing at one canonical
// entity.
func (r *Repository) ListActiveByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.EntityLink, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylink.Repository.ListActiveByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
		sb.Equal("is_active", true),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	links := []models.EntityLink{}
	if err := r.db.SelectContext(ctx, &links, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": entityID}).Error("Failed to list entity links")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entity links")
	}

	return links, nil
}

// CountActiveByEntity counts active links pointing at one canonical entity.
func (r *Repository) CountActiveByEntity(ctx context.Context, entityType models.EntityType, entityID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylink.Repository.CountActiveByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(1)")
	sb.From(table)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
		sb.Equal("is_active", true),
	)

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count entity links")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count entity links")
	}

	return count, nil
}

// SetSuccessor records the replacement pointer on an already-deactivated
// link. Split from Supersede because the unique index forces the old link
// down before the replacement can exist.
func (r *Repository) SetSuccessor(ctx context.Context, linkID, successorID string) error {
	ctx, span := tracing.StartSpan(ctx, "entitylink.Repository.SetSuccessor")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("superseded_by_link_id", successorID),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", linkID),
		ub.Equal("is_active", false),
	)

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"link_id": linkID}).Error("Failed to set link successor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to supersede entity link")
	}

	return nil
}

// Reactivate restores a superseded link and deactivates its replacement.
// Only merge revert calls this path.
func (r *Repository) Reactivate(ctx context.Context, linkID string) error {
	ctx, span := tracing.StartSpan(ctx, "entitylink.Repository.Reactivate")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("is_active", true),
		ub.Assign("superseded_by_link_id", nil),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", linkID),
		ub.Equal("is_active", false),
	)

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"link_id": linkID}).Error("Failed to reactivate entity link")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reactivate entity link")
	}

	return nil
}

// Deactivate marks a link inactive without a successor. Used when reverting
// a merge that created the link.
func (r *Repository) Deactivate(ctx context.Context, linkID string) error {
	ctx, span := tracing.StartSpan(ctx, "entitylink.Repository.Deactivate")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("is_active", false),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", linkID))

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"link_id": linkID}).Error("Failed to deactivate entity link")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to deactivate entity link")
	}

	return nil
}

// Get retrieves a link by id, active or not.
func (r *Repository) Get(ctx context.Context, id string) (*models.EntityLink, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylink.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var link models.EntityLink
	if err := r.db.GetContext(ctx, &link, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entity link %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get entity link")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity link")
	}

	return &link, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
