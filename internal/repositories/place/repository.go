// Package place persists canonical place records.
package place

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

const table = "places"

var columns = []string{
	"id", "display_name", "address", "place_kind", "superseded_by",
	"version", "created_at", "updated_at", "deleted_at",
}

// Repository handles place persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new place repository
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

// Create inserts a new canonical place.
func (r *Repository) Create(ctx context.Context, p *models.Place) (*models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.Create")
	defer span.End()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.PlaceKind == "" {
		p.PlaceKind = models.PlaceKindOther
	}
	p.Version = 1
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("id", "display_name", "address", "place_kind", "superseded_by", "version", "created_at", "updated_at")
	sb.Values(p.ID, p.DisplayName, p.Address, p.PlaceKind, p.SupersededBy, p.Version, p.CreatedAt, p.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"place_id": p.ID}).Error("Failed to create place")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create place")
	}

	return p, nil
}

// Get retrieves a place by ID.
func (r *Repository) Get(ctx context.Context, id string) (*models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.Get")
	defer span.End()

	return r.get(ctx, id, false)
}

// GetForUpdate retrieves a place with a row lock. Must run inside a
// transaction carried on ctx.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.GetForUpdate")
	defer span.End()

	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, forUpdate bool) (*models.Place, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	if forUpdate {
		query += " FOR UPDATE"
	}

	var p models.Place
	if err := r.db.GetContext(ctx, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("place %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get place")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get place")
	}

	return &p, nil
}

// UpdateFields applies field values and bumps the version.
func (r *Repository) UpdateFields(ctx context.Context, id string, fields map[string]any, expectedVersion int) error {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.UpdateFields")
	defer span.End()

	if len(fields) == 0 {
		return nil
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	assignments := make([]string, 0, len(fields)+2)
	for field, value := range fields {
		assignments = append(assignments, ub.Assign(field, value))
	}
	assignments = append(assignments,
		ub.Assign("updated_at", time.Now().UTC()),
		"version = version + 1",
	)
	ub.Set(assignments...)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("version", expectedVersion),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"place_id": id}).Error("Failed to update place")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update place")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update place")
	}
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("place %s was modified concurrently", id))
	}

	return nil
}

// SetSupersededBy points a place at the entity it was merged into. Passing
// nil clears the pointer on revert.
func (r *Repository) SetSupersededBy(ctx context.Context, id string, supersededBy *string) error {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.SetSupersededBy")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("superseded_by", supersededBy),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"place_id": id}).Error("Failed to set superseded_by")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update place")
	}

	return nil
}

// ListCanonical retrieves places that have not been superseded.
func (r *Repository) ListCanonical(ctx context.Context, search string, kind models.PlaceKind, limit, offset int) ([]models.Place, error) {
	ctx, span := tracing.StartSpan(ctx, "place.Repository.ListCanonical")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.IsNull("superseded_by"),
		sb.IsNull("deleted_at"),
	)
	if search != "" {
		sb.Where(sb.Or(
			sb.ILike("display_name", "%"+search+"%"),
			sb.ILike("address", "%"+search+"%"),
		))
	}
	if kind != "" {
		sb.Where(sb.Equal("place_kind", kind))
	}
	sb.OrderBy("updated_at DESC")
	sb.Limit(limit)
	sb.Offset(offset)

	query, args := sb.Build()
	places := []models.Place{}
	if err := r.db.SelectContext(ctx, &places, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list places")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list places")
	}

	return places, nil
}
