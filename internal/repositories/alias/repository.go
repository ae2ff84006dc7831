// Package alias persists the append-only alias store. Aliases accumulate;
// there is no update or delete path other than moving the primary flag.
package alias

import (
	"context"
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

const table = "aliases"

var columns = []string{
	"id", "entity_type", "entity_id", "kind", "value", "normalized_value",
	"source_system", "source_record_id", "is_primary", "created_at",
}

// Repository handles alias persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new alias repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create appends one alias. Duplicate (entity, kind, normalized_value) rows
// are skipped so merges can re-record known variants without churn.
func (r *Repository) Create(ctx context.Context, a *models.Alias) (*models.Alias, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.Create")
	defer span.End()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(a.ID, a.EntityType, a.EntityID, a.Kind, a.Value, a.NormalizedValue,
		a.SourceSystem, a.SourceRecordID, a.IsPrimary, a.CreatedAt)

	query, args := sb.Build()
	query += " ON CONFLICT (entity_type, entity_id, kind, normalized_value) DO NOTHING"

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": a.EntityID, "kind": a.Kind}).Error("Failed to create alias")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create alias")
	}

	return a, nil
}

// CreateBatch appends multiple aliases, skipping duplicates.
func (r *Repository) CreateBatch(ctx context.Context, aliases []*models.Alias) error {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.CreateBatch")
	defer span.End()

	if len(aliases) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	for _, a := range aliases {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		a.CreatedAt = now
		sb.Values(a.ID, a.EntityType, a.EntityID, a.Kind, a.Value, a.NormalizedValue,
			a.SourceSystem, a.SourceRecordID, a.IsPrimary, a.CreatedAt)
	}

	query, args := sb.Build()
	query += " ON CONFLICT (entity_type, entity_id, kind, normalized_value) DO NOTHING"

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create alias batch")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create aliases")
	}

	return nil
}

// ListByEntity retrieves all aliases for one canonical entity, primaries
// first, then oldest first.
func (r *Repository) ListByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.Alias, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
	)
	sb.OrderBy("is_primary DESC", "created_at ASC")

	query, args := sb.Build()
	aliases := []models.Alias{}
	if err := r.db.SelectContext(ctx, &aliases, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": entityID}).Error("Failed to list aliases")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list aliases")
	}

	return aliases, nil
}

// FindEntityIDsByValue finds canonical entities holding an alias with the
// given kind and normalized value. This is the blocking index the candidate
// generator queries for exact contact matches.
func (r *Repository) FindEntityIDsByValue(ctx context.Context, entityType models.EntityType, kind models.AliasKind, normalizedValue string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.FindEntityIDsByValue")
	defer span.End()

	if normalizedValue == "" {
		return []string{}, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("DISTINCT entity_id")
	sb.From(table)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("kind", kind),
		sb.Equal("normalized_value", normalizedValue),
	)

	query, args := sb.Build()
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind}).Error("Failed to find entities by alias value")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to search aliases")
	}

	return ids, nil
}

// NameMatch is one fuzzy name hit from the pg_trgm index.
type NameMatch struct {
	EntityID        string  `db:"entity_id"`
	NormalizedValue string  `db:"normalized_value"`
	Similarity      float64 `db:"similarity"`
}

// FindNameMatches finds entities whose name aliases are trigram-similar to
// the query. This is only the blocking step: the match engine rescores hits
// in Go before assigning a tier, so the threshold here can stay loose.
func (r *Repository) FindNameMatches(ctx context.Context, entityType models.EntityType, normalizedName string, threshold float64, limit int) ([]NameMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.FindNameMatches")
	defer span.End()

	if normalizedName == "" {
		return []NameMatch{}, nil
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := `SELECT DISTINCT ON (entity_id) entity_id, normalized_value,
		similarity(normalized_value, $1) AS similarity
		FROM aliases
		WHERE entity_type = $2 AND kind = $3 AND similarity(normalized_value, $1) > $4
		ORDER BY entity_id, similarity DESC
		LIMIT $5`

	matches := []NameMatch{}
	if err := r.db.SelectContext(ctx, &matches, query, normalizedName, entityType, models.AliasKindName, threshold, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to search name aliases")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to search aliases")
	}

	return matches, nil
}

// MovePrimary flips the primary flag to the alias matching the normalized
// value, clearing it on the previous primary of the same kind.
func (r *Repository) MovePrimary(ctx context.Context, entityType models.EntityType, entityID string, kind models.AliasKind, normalizedValue string) error {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.MovePrimary")
	defer span.End()

	clear := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	clear.Update(table)
	clear.Set(clear.Assign("is_primary", false))
	clear.Where(
		clear.Equal("entity_type", entityType),
		clear.Equal("entity_id", entityID),
		clear.Equal("kind", kind),
		clear.Equal("is_primary", true),
	)
	query, args := clear.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear primary alias")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update aliases")
	}

	set := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	set.Update(table)
	set.Set(set.Assign("is_primary", true))
	set.Where(
		set.Equal("entity_type", entityType),
		set.Equal("entity_id", entityID),
		set.Equal("kind", kind),
		set.Equal("normalized_value", normalizedValue),
	)
	query, args = set.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set primary alias")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update aliases")
	}

	return nil
}
