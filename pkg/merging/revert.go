package merging

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Revert undoes an executed merge by replaying its effect journal in
// reverse. Two safety checks gate it: the operation must still be the most
// recent merge touching its entities, and every field being restored must
// still hold the value the merge wrote. Either failing is a 409, because a
// blind revert would destroy later work.
func (e *Engine) Revert(ctx context.Context, operationID, revertedBy string) (*models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Revert")
	defer span.End()

	op, err := e.opRepo.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if op.Status != models.MergeOperationStatusExecuted {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "merge operation %s is %s, only executed operations can be reverted", op.ID, op.Status)
	}

	if err := e.checkNoLaterMerges(ctx, op); err != nil {
		return nil, err
	}

	effects, err := e.opRepo.ListEffects(ctx, op.ID)
	if err != nil {
		return nil, err
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"operation_id": op.ID,
		"effects":      len(effects),
	})

	ctxTx, tx, err := e.opRepo.DB().GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin revert transaction")
	}
	defer tx.Rollback(ctxTx)

	// lock the target up front; undo steps run newest first
	if _, err := e.lockEntity(ctxTx, op.EntityType, op.TargetEntityID); err != nil {
		return nil, err
	}
	for i := len(effects) - 1; i >= 0; i-- {
		if err := e.undoEffect(ctxTx, &effects[i]); err != nil {
			return nil, err
		}
	}

	if err := e.opRepo.MarkReverted(ctxTx, op.ID, revertedBy); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit revert")
	}

	op.Status = models.MergeOperationStatusReverted
	metrics.MergesTotal.WithLabelValues(string(op.Method), "reverted").Inc()
	log.Info("Merge reverted")
	return op, nil
}

// checkNoLaterMerges rejects the revert when another merge executed against
// either entity after this one. Reverts unwind strictly newest-first.
func (e *Engine) checkNoLaterMerges(ctx context.Context, op *models.MergeOperation) error {
	if op.ExecutedAt == nil {
		return httperror.NewHTTPError(http.StatusConflict, "merge operation has no execution timestamp")
	}

	ids := []string{op.TargetEntityID}
	if op.SourceEntityID != nil {
		ids = append(ids, *op.SourceEntityID)
	}
	for _, id := range ids {
		count, err := e.opRepo.CountExecutedSince(ctx, id, *op.ExecutedAt)
		if err != nil {
			return err
		}
		if count > 0 {
			return httperror.NewHTTPErrorf(http.StatusConflict, "entity %s has later merges; revert those first", id)
		}
	}
	return nil
}

func (e *Engine) lockEntity(ctx context.Context, entityType models.EntityType, id string) (map[string]string, error) {
	switch entityType {
	case models.EntityTypePlace:
		p, err := e.placeRepo.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		return p.FieldValues(), nil
	default:
		p, err := e.personRepo.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		return p.FieldValues(), nil
	}
}

// undoEffect reverses one journal entry.
//
// Alias rows are deliberately left in place: the alias store is append-only
// and a variant observed during the merged period was still observed.
func (e *Engine) undoEffect(ctx context.Context, effect *models.MergeEffect) error {
	switch effect.Kind {
	case models.EffectFieldUpdate:
		return e.undoFieldUpdate(ctx, effect)
	case models.EffectAliasAdded:
		return nil
	case models.EffectLinkCreated:
		var linkID string
		if err := effect.After.Unmarshal(&linkID); err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "merge effect payload is corrupt")
		}
		return e.linkRepo.Deactivate(ctx, linkID)
	case models.EffectLinkSuperseded:
		var linkID string
		if err := effect.Before.Unmarshal(&linkID); err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "merge effect payload is corrupt")
		}
		return e.linkRepo.Reactivate(ctx, linkID)
	case models.EffectEntitySuperseded:
		return e.setSupersededBy(ctx, effect.EntityType, effect.EntityID, nil)
	default:
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "unknown merge effect kind %q", effect.Kind)
	}
}

// undoFieldUpdate restores a field to its pre-merge value, but only if the
// current value is still what the merge wrote.
func (e *Engine) undoFieldUpdate(ctx context.Context, effect *models.MergeEffect) error {
	if effect.Field == nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "merge effect payload is corrupt")
	}
	field := *effect.Field

	current, version, err := e.currentFieldValue(ctx, effect.EntityType, effect.EntityID, field)
	if err != nil {
		return err
	}

	before, err := restoreValue(effect, current)
	if err != nil {
		return err
	}

	return e.updateFields(ctx, effect.EntityType, effect.EntityID, map[string]any{field: fieldValue(field, before)}, version)
}

// restoreValue decides what a field-update effect restores. A current value
// that is no longer what the merge wrote means someone edited the entity
// since; reverting over that edit would silently lose it, so the revert is
// rejected as a conflict instead.
func restoreValue(effect *models.MergeEffect, current string) (string, error) {
	var before, after string
	if err := effect.Before.Unmarshal(&before); err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "merge effect payload is corrupt")
	}
	if err := effect.After.Unmarshal(&after); err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "merge effect payload is corrupt")
	}

	if current != after {
		return "", httperror.NewHTTPErrorf(http.StatusConflict, "field %s on entity %s changed after the merge; resolve manually", derefStr(effect.Field), effect.EntityID)
	}
	return before, nil
}

func (e *Engine) currentFieldValue(ctx context.Context, entityType models.EntityType, id, field string) (string, int, error) {
	switch entityType {
	case models.EntityTypePlace:
		p, err := e.placeRepo.Get(ctx, id)
		if err != nil {
			return "", 0, err
		}
		return p.FieldValues()[field], p.Version, nil
	default:
		p, err := e.personRepo.Get(ctx, id)
		if err != nil {
			return "", 0, err
		}
		return p.FieldValues()[field], p.Version, nil
	}
}
