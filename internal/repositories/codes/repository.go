// Package codes reads the classification_codes lookup table. The table is
// the single source of truth for labels; the matching Go constants are the
// closed set the engines switch on.
package codes

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "classification_codes"

var columns = []string{
	"id", "code_kind", "code", "label", "sort_order", "is_active", "created_at",
}

// Repository reads classification codes
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new classification code repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListByKind retrieves active codes of one kind in display order.
func (r *Repository) ListByKind(ctx context.Context, kind models.CodeKind) ([]models.ClassificationCode, error) {
	ctx, span := tracing.StartSpan(ctx, "codes.Repository.ListByKind")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("code_kind", kind),
		sb.Equal("is_active", true),
	)
	sb.OrderBy("sort_order ASC", "code ASC")

	query, args := sb.Build()
	out := []models.ClassificationCode{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"code_kind": kind}).Error("Failed to list classification codes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list classification codes")
	}

	return out, nil
}

// ListAll retrieves every active code grouped in one pass, for the lookup
// endpoint.
func (r *Repository) ListAll(ctx context.Context) (map[models.CodeKind][]models.ClassificationCode, error) {
	ctx, span := tracing.StartSpan(ctx, "codes.Repository.ListAll")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("is_active", true))
	sb.OrderBy("code_kind ASC", "sort_order ASC")

	query, args := sb.Build()
	rows := []models.ClassificationCode{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list classification codes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list classification codes")
	}

	grouped := map[models.CodeKind][]models.ClassificationCode{}
	for _, row := range rows {
		grouped[row.CodeKind] = append(grouped[row.CodeKind], row)
	}

	return grouped, nil
}
