// Package mergeop persists merge operations and their field-level effect
// logs. The effect log is what makes a merge reversible: every applied step
// is one row with a before and after value, and revert replays rows in
// descending sequence.
package mergeop

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

const (
	opsTable     = "merge_operations"
	effectsTable = "merge_effects"
)

var opColumns = []string{
	"id", "entity_type", "target_entity_id", "source_entity_id", "source_system",
	"source_record_id", "candidate_id", "method", "status", "preview", "reason",
	"performed_by", "created_at", "executed_at", "reverted_at", "reverted_by",
}

var effectColumns = []string{
	"id", "operation_id", "seq", "kind", "entity_type", "entity_id", "field",
	"before", "after", "reason", "created_at",
}

// Repository handles merge operation persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merge operation repository
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

// Create inserts a merge operation, normally in pending status holding just
// the computed preview.
func (r *Repository) Create(ctx context.Context, op *models.MergeOperation) (*models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeop.Repository.Create")
	defer span.End()

	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.Status == "" {
		op.Status = models.MergeOperationStatusPending
	}
	op.CreatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(opsTable)
	sb.Cols("id", "entity_type", "target_entity_id", "source_entity_id", "source_system",
		"source_record_id", "candidate_id", "method", "status", "preview", "reason",
		"performed_by", "created_at")
	sb.Values(op.ID, op.EntityType, op.TargetEntityID, op.SourceEntityID, op.SourceSystem,
		op.SourceRecordID, op.CandidateID, op.Method, op.Status, op.Preview, op.Reason,
		op.PerformedBy, op.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"operation_id": op.ID}).Error("Failed to create merge operation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create merge operation")
	}

	return op, nil
}

// Get retrieves a merge operation by ID.
func (r *Repository) Get(ctx context.Context, id string) (*models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeop.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(opColumns...)
	sb.From(opsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var op models.MergeOperation
	if err := r.db.GetContext(ctx, &op, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("merge operation %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get merge operation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge operation")
	}

	return &op, nil
}

// MarkExecuted transitions pending -> executed. Any other starting status is
// a conflict.
func (r *Repository) MarkExecuted(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "mergeop.Repository.MarkExecuted")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(opsTable)
	ub.Set(
		ub.Assign("status", models.MergeOperationStatusExecuted),
		ub.Assign("executed_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.MergeOperationStatusPending),
	)

	query, args := ub.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"operation_id": id}).Error("Failed to mark merge operation executed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update merge operation")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update merge operation")
	}
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("merge operation %s is not pending", id))
	}

	return nil
}

// MarkReverted transitions executed -> reverted.
func (r *Repository) MarkReverted(ctx context.Context, id, revertedBy string) error {
	ctx, span := tracing.StartSpan(ctx, "mergeop.Repository.MarkReverted")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(opsTable)
	ub.Set(
		ub.Assign("status", models.MergeOperationStatusReverted),
		ub.Assign("reverted_at", time.Now().UTC()),
		ub.Assign("reverted_by", revertedBy),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.MergeOperationStatusExecuted),
	)

	query, args := ub.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"operation_id": id}).Error("Failed to mark merge operation reverted")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update merge operation")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update merge operation")
	}
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("merge operation %s is not executed", id))
	}

	return nil
}

// AddEffects appends effect rows for an operation. Sequence numbers are
// assigned by the caller in apply order.
func (r *Repository) AddEffects(ctx context.Context, effects []*models.MergeEffect) error {
	ctx, span := tracing.StartSpan(ctx, "mergeop.Repository.AddEffects")
	defer span.End()

	if len(effects) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(effectsTable)
	sb.Cols(effectColumns...)
	for _, e := range effects {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.CreatedAt = now
		sb.Values(e.ID, e.OperationID, e.Seq, e.Kind, e.EntityType, e.EntityID, e.Field,
			e.Before, e.After, e.Reason, e.CreatedAt)
	}

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to add merge effects")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record merge effects")
	}

	return nil
}

// ListEffects retrieves an operation's effects in apply order.
func (r *Repository) ListEffects(ctx context.Context, operationID string) ([]models.MergeEffect, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeop.Repository.ListEffects")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(effectColumns...)
	sb.From(effectsTable)
	sb.Where(sb.Equal("operation_id", operationID))
	sb.OrderBy("seq ASC")

	query, args := sb.Build()
	effects := []models.MergeEffect{}
	if err := r.db.SelectContext(ctx, &effects, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"operation_id": operationID}).Error("Failed to list merge effects")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge effects")
	}

	return effects, nil
}

// ListByEntity retrieves operations touching an entity as target or source,
// newest first.
func (r *Repository) ListByEntity(ctx context.Context, entityID string, limit int) ([]models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeop.Repository.ListByEntity")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(opColumns...)
	sb.From(opsTable)
	sb.Where(sb.Or(
		sb.Equal("target_entity_id", entityID),
		sb.Equal("source_entity_id", entityID),
	))
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	ops := []models.MergeOperation{}
	if err := r.db.SelectContext(ctx, &ops, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": entityID}).Error("Failed to list merge operations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge operations")
	}

	return ops, nil
}

// CountExecutedSince counts merges executed against an entity after the
// given instant. The revert path uses this to detect later merges layered
// on top of the one being reverted.
func (r *Repository) CountExecutedSince(ctx context.Context, entityID string, since time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeop.Repository.CountExecutedSince")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(1)")
	sb.From(opsTable)
	sb.Where(
		sb.Equal("status", models.MergeOperationStatusExecuted),
		sb.GreaterThan("executed_at", since),
		sb.Or(
			sb.Equal("target_entity_id", entityID),
			sb.Equal("source_entity_id", entityID),
		),
	)

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count merge operations")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count merge operations")
	}

	return count, nil
}
