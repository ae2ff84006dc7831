// Package person persists canonical person records.
package person

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

const table = "persons"

var columns = []string{
	"id", "display_name", "primary_phone", "primary_email", "superseded_by",
	"version", "created_at", "updated_at", "deleted_at",
}

// Repository handles person persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new person repository
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

// Create inserts a new canonical person.
func (r *Repository) Create(ctx context.Context, p *models.Person) (*models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.Create")
	defer span.End()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Version = 1
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("id", "display_name", "primary_phone", "primary_email", "superseded_by", "version", "created_at", "updated_at")
	sb.Values(p.ID, p.DisplayName, p.PrimaryPhone, p.PrimaryEmail, p.SupersededBy, p.Version, p.CreatedAt, p.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"person_id": p.ID}).Error("Failed to create person")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create person")
	}

	return p, nil
}

// Get retrieves a person by ID.
func (r *Repository) Get(ctx context.Context, id string) (*models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.Get")
	defer span.End()

	return r.get(ctx, id, false)
}

// GetForUpdate retrieves a person with a row lock. Must run inside a
// transaction carried on ctx; the merge engine locks both sides before
// computing effects.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.GetForUpdate")
	defer span.End()

	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, forUpdate bool) (*models.Person, error) {
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

	var p models.Person
	if err := r.db.GetContext(ctx, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("person %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get person")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get person")
	}

	return &p, nil
}

// UpdateFields applies field values and bumps the version. Only the merge
// engine calls this; expectedVersion guards against concurrent merges that
// slipped past the row lock.
func (r *Repository) UpdateFields(ctx context.Context, id string, fields map[string]any, expectedVersion int) error {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.UpdateFields")
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
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"person_id": id}).Error("Failed to update person")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update person")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update person")
	}
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("person %s was modified concurrently", id))
	}

	return nil
}

// SetSupersededBy points a person at the entity it was merged into. Passing
// nil clears the pointer on revert.
func (r *Repository) SetSupersededBy(ctx context.Context, id string, supersededBy *string) error {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.SetSupersededBy")
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
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"person_id": id}).Error("Failed to set superseded_by")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update person")
	}

	return nil
}

// ListCanonical retrieves persons that have not been superseded, most
// recently updated first.
func (r *Repository) ListCanonical(ctx context.Context, search string, limit, offset int) ([]models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.ListCanonical")
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
		sb.Where(sb.ILike("display_name", "%"+search+"%"))
	}
	sb.OrderBy("updated_at DESC")
	sb.Limit(limit)
	sb.Offset(offset)

	query, args := sb.Build()
	persons := []models.Person{}
	if err := r.db.SelectContext(ctx, &persons, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list persons")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list persons")
	}

	return persons, nil
}

// ListByIDs retrieves persons by id, superseded ones included. Used when
// hydrating candidates for review.
func (r *Repository) ListByIDs(ctx context.Context, ids []string) ([]models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "person.Repository.ListByIDs")
	defer span.End()

	if len(ids) == 0 {
		return []models.Person{}, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.In("id", sqlbuilder.List(ids)),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	persons := []models.Person{}
	if err := r.db.SelectContext(ctx, &persons, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list persons by ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list persons")
	}

	return persons, nil
}
