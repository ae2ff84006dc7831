// Package merging implements the safe-merge engine: previewed, executed,
// and reversible merge operations over canonical entities. Every applied
// step is journaled as a field-level effect, and revert replays the journal
// backwards.
package merging

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/alias"
	"github.com/Ramsey-B/fern/internal/repositories/entitylink"
	"github.com/Ramsey-B/fern/internal/repositories/mergeop"
	"github.com/Ramsey-B/fern/internal/repositories/person"
	"github.com/Ramsey-B/fern/internal/repositories/place"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Engine handles entity merging
type Engine struct {
	logger     ectologger.Logger
	personRepo *person.Repository
	placeRepo  *place.Repository
	aliasRepo  *alias.Repository
	linkRepo   *entitylink.Repository
	opRepo     *mergeop.Repository
}

// NewEngine creates a new merge engine
func NewEngine(
	logger ectologger.Logger,
	personRepo *person.Repository,
	placeRepo *place.Repository,
	aliasRepo *alias.Repository,
	linkRepo *entitylink.Repository,
	opRepo *mergeop.Repository,
) *Engine {
	return &Engine{
		logger:     logger,
		personRepo: personRepo,
		placeRepo:  placeRepo,
		aliasRepo:  aliasRepo,
		linkRepo:   linkRepo,
		opRepo:     opRepo,
	}
}

// Preview computes what an entity merge would do without applying anything.
// The result is stored as a pending operation so the reviewer's confirm can
// reference exactly what they saw.
func (e *Engine) Preview(ctx context.Context, req models.PreviewMergeRequest, performedBy string) (*models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Preview")
	defer span.End()

	targetFields, sourceFields, err := e.loadPair(ctx, req.EntityType, req.TargetEntityID, req.SourceEntityID)
	if err != nil {
		return nil, err
	}

	preview, err := e.buildPreview(ctx, req.EntityType, req.TargetEntityID, req.SourceEntityID, targetFields, sourceFields, false)
	if err != nil {
		return nil, err
	}

	payload, err := models.MarshalJSONText(preview)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge preview")
	}

	op := &models.MergeOperation{
		EntityType:     req.EntityType,
		TargetEntityID: req.TargetEntityID,
		SourceEntityID: &req.SourceEntityID,
		Method:         models.MergeMethodManual,
		Status:         models.MergeOperationStatusPending,
		Preview:        payload,
		PerformedBy:    strPtr(performedBy),
	}
	return e.opRepo.Create(ctx, op)
}

// Execute applies an entity merge inside one transaction: fill target
// fields, append aliases, move active links, point the source entity at the
// target. Both rows are locked before anything is computed so concurrent
// merges against either side serialize.
func (e *Engine) Execute(ctx context.Context, req models.ExecuteMergeRequest, performedBy string) (*models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Execute")
	defer span.End()

	if req.SourceEntityID == req.TargetEntityID {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "cannot merge an entity into itself")
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": req.EntityType,
		"target_id":   req.TargetEntityID,
		"source_id":   req.SourceEntityID,
	})

	ctxTx, tx, err := e.opRepo.DB().GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin merge transaction")
	}
	defer tx.Rollback(ctxTx)

	targetFields, sourceFields, versions, err := e.lockPair(ctxTx, req.EntityType, req.TargetEntityID, req.SourceEntityID)
	if err != nil {
		return nil, err
	}

	preview, err := e.buildPreview(ctxTx, req.EntityType, req.TargetEntityID, req.SourceEntityID, targetFields, sourceFields, req.PreferSource)
	if err != nil {
		return nil, err
	}

	payload, err := models.MarshalJSONText(preview)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge preview")
	}

	op := &models.MergeOperation{
		EntityType:     req.EntityType,
		TargetEntityID: req.TargetEntityID,
		SourceEntityID: &req.SourceEntityID,
		Method:         models.MergeMethodManual,
		Status:         models.MergeOperationStatusPending,
		Preview:        payload,
		Reason:         req.Reason,
		PerformedBy:    strPtr(performedBy),
	}
	if op, err = e.opRepo.Create(ctxTx, op); err != nil {
		return nil, err
	}

	effects, err := e.apply(ctxTx, op, preview, versions)
	if err != nil {
		return nil, err
	}
	if err := e.opRepo.AddEffects(ctxTx, effects); err != nil {
		return nil, err
	}
	if err := e.opRepo.MarkExecuted(ctxTx, op.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit merge")
	}

	op.Status = models.MergeOperationStatusExecuted
	metrics.MergesTotal.WithLabelValues(string(op.Method), "executed").Inc()
	log.WithFields(map[string]any{"operation_id": op.ID, "effects": len(effects)}).Info("Merge executed")
	return op, nil
}

// loadPair fetches both sides without locks, rejecting superseded entities.
func (e *Engine) loadPair(ctx context.Context, entityType models.EntityType, targetID, sourceID string) (target, source map[string]string, err error) {
	switch entityType {
	case models.EntityTypePlace:
		t, err := e.placeRepo.Get(ctx, targetID)
		if err != nil {
			return nil, nil, err
		}
		s, err := e.placeRepo.Get(ctx, sourceID)
		if err != nil {
			return nil, nil, err
		}
		if t.SupersededBy != nil || s.SupersededBy != nil {
			return nil, nil, httperror.NewHTTPError(http.StatusConflict, "one side of the merge is already superseded")
		}
		return t.FieldValues(), s.FieldValues(), nil
	default:
		t, err := e.personRepo.Get(ctx, targetID)
		if err != nil {
			return nil, nil, err
		}
		s, err := e.personRepo.Get(ctx, sourceID)
		if err != nil {
			return nil, nil, err
		}
		if t.SupersededBy != nil || s.SupersededBy != nil {
			return nil, nil, httperror.NewHTTPError(http.StatusConflict, "one side of the merge is already superseded")
		}
		return t.FieldValues(), s.FieldValues(), nil
	}
}

// pairVersions carries the locked row versions into UpdateFields.
type pairVersions struct {
	target int
	source int
}

// lockPair locks both rows in ascending id order so two merges touching the
// same entities cannot deadlock.
func (e *Engine) lockPair(ctx context.Context, entityType models.EntityType, targetID, sourceID string) (target, source map[string]string, versions pairVersions, err error) {
	firstID, secondID := targetID, sourceID
	if sourceID < targetID {
		firstID, secondID = sourceID, targetID
	}

	switch entityType {
	case models.EntityTypePlace:
		first, err := e.placeRepo.GetForUpdate(ctx, firstID)
		if err != nil {
			return nil, nil, versions, err
		}
		second, err := e.placeRepo.GetForUpdate(ctx, secondID)
		if err != nil {
			return nil, nil, versions, err
		}
		t, s := first, second
		if t.ID != targetID {
			t, s = second, first
		}
		if t.SupersededBy != nil || s.SupersededBy != nil {
			return nil, nil, versions, httperror.NewHTTPError(http.StatusConflict, "one side of the merge is already superseded")
		}
		return t.FieldValues(), s.FieldValues(), pairVersions{target: t.Version, source: s.Version}, nil
	default:
		first, err := e.personRepo.GetForUpdate(ctx, firstID)
		if err != nil {
			return nil, nil, versions, err
		}
		second, err := e.personRepo.GetForUpdate(ctx, secondID)
		if err != nil {
			return nil, nil, versions, err
		}
		t, s := first, second
		if t.ID != targetID {
			t, s = second, first
		}
		if t.SupersededBy != nil || s.SupersededBy != nil {
			return nil, nil, versions, httperror.NewHTTPError(http.StatusConflict, "one side of the merge is already superseded")
		}
		return t.FieldValues(), s.FieldValues(), pairVersions{target: t.Version, source: s.Version}, nil
	}
}

// buildPreview assembles the full dry-run payload for an entity merge.
func (e *Engine) buildPreview(ctx context.Context, entityType models.EntityType, targetID, sourceID string, targetFields, sourceFields map[string]string, preferSource bool) (*models.MergePreview, error) {
	changes := planFieldChanges(targetFields, sourceFields, preferSource)

	var additions []models.AliasAddition
	switch entityType {
	case models.EntityTypePlace:
		s, err := e.placeRepo.Get(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		additions = aliasAdditionsForPlace(s)
	default:
		s, err := e.personRepo.Get(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		additions = aliasAdditionsForPerson(s)
	}

	linkCount, err := e.linkRepo.CountActiveByEntity(ctx, entityType, sourceID)
	if err != nil {
		return nil, err
	}

	return &models.MergePreview{
		EntityType:     entityType,
		TargetEntityID: targetID,
		SourceEntityID: sourceID,
		FieldChanges:   changes,
		AliasAdditions: additions,
		LinksToMove:    linkCount,
	}, nil
}

// apply executes a computed preview and returns the effect journal in apply
// order. Callers already hold row locks on both entities.
func (e *Engine) apply(ctx context.Context, op *models.MergeOperation, preview *models.MergePreview, versions pairVersions) ([]*models.MergeEffect, error) {
	effects := []*models.MergeEffect{}
	seq := 0
	nextSeq := func() int {
		seq++
		return seq
	}

	// 1. field updates on the target
	if len(preview.FieldChanges) > 0 {
		updates := map[string]any{}
		for _, change := range preview.FieldChanges {
			updates[change.Field] = fieldValue(change.Field, change.After)

			before, err := models.MarshalJSONText(change.Before)
			if err != nil {
				return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge effect")
			}
			after, err := models.MarshalJSONText(change.After)
			if err != nil {
				return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge effect")
			}
			field := change.Field
			effects = append(effects, &models.MergeEffect{
				OperationID: op.ID,
				Seq:         nextSeq(),
				Kind:        models.EffectFieldUpdate,
				EntityType:  op.EntityType,
				EntityID:    preview.TargetEntityID,
				Field:       &field,
				Before:      before,
				After:       after,
				Reason:      change.Reason,
			})
		}
		if err := e.updateFields(ctx, op.EntityType, preview.TargetEntityID, updates, versions.target); err != nil {
			return nil, err
		}
		// the adopted value's alias becomes the primary for its kind
		for _, change := range preview.FieldChanges {
			kind, normalized := aliasForField(change.Field, change.After)
			if kind == "" || normalized == "" {
				continue
			}
			if err := e.aliasRepo.MovePrimary(ctx, op.EntityType, preview.TargetEntityID, kind, normalized); err != nil {
				return nil, err
			}
		}
	}

	// 2. alias additions on the target
	if len(preview.AliasAdditions) > 0 {
		aliases := make([]*models.Alias, 0, len(preview.AliasAdditions))
		for _, addition := range preview.AliasAdditions {
			aliases = append(aliases, &models.Alias{
				EntityType:      op.EntityType,
				EntityID:        preview.TargetEntityID,
				Kind:            addition.Kind,
				Value:           addition.Value,
				NormalizedValue: addition.NormalizedValue,
				IsPrimary:       addition.IsPrimary,
			})
		}
		if err := e.aliasRepo.CreateBatch(ctx, aliases); err != nil {
			return nil, err
		}
		for _, a := range aliases {
			after, err := models.MarshalJSONText(a.NormalizedValue)
			if err != nil {
				return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge effect")
			}
			kind := string(a.Kind)
			effects = append(effects, &models.MergeEffect{
				OperationID: op.ID,
				Seq:         nextSeq(),
				Kind:        models.EffectAliasAdded,
				EntityType:  op.EntityType,
				EntityID:    preview.TargetEntityID,
				Field:       &kind,
				After:       after,
				Reason:      "alias preserved from absorbed entity",
			})
		}
	}

	// 3. move active links from source to target
	if preview.SourceEntityID != "" {
		links, err := e.linkRepo.ListActiveByEntity(ctx, op.EntityType, preview.SourceEntityID)
		if err != nil {
			return nil, err
		}
		for _, old := range links {
			// the unique index allows one active link per source record, so
			// the old link goes down before its replacement exists
			if err := e.linkRepo.Deactivate(ctx, old.ID); err != nil {
				return nil, err
			}
			replacement, err := e.linkRepo.Create(ctx, &models.EntityLink{
				SourceSystem:   old.SourceSystem,
				SourceRecordID: old.SourceRecordID,
				EntityType:     op.EntityType,
				EntityID:       preview.TargetEntityID,
				LinkMethod:     models.LinkMethodSystem,
				Confidence:     old.Confidence,
				CreatedBy:      op.PerformedBy,
			})
			if err != nil {
				return nil, err
			}
			if err := e.linkRepo.SetSuccessor(ctx, old.ID, replacement.ID); err != nil {
				return nil, err
			}

			oldID, err := models.MarshalJSONText(old.ID)
			if err != nil {
				return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge effect")
			}
			newID, err := models.MarshalJSONText(replacement.ID)
			if err != nil {
				return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge effect")
			}
			effects = append(effects,
				&models.MergeEffect{
					OperationID: op.ID,
					Seq:         nextSeq(),
					Kind:        models.EffectLinkCreated,
					EntityType:  op.EntityType,
					EntityID:    preview.TargetEntityID,
					After:       newID,
					Reason:      "link moved to surviving entity",
				},
				&models.MergeEffect{
					OperationID: op.ID,
					Seq:         nextSeq(),
					Kind:        models.EffectLinkSuperseded,
					EntityType:  op.EntityType,
					EntityID:    preview.SourceEntityID,
					Before:      oldID,
					After:       newID,
					Reason:      "link moved to surviving entity",
				},
			)
		}

		// 4. point the absorbed entity at the survivor
		if err := e.setSupersededBy(ctx, op.EntityType, preview.SourceEntityID, &preview.TargetEntityID); err != nil {
			return nil, err
		}
		after, err := models.MarshalJSONText(preview.TargetEntityID)
		if err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge effect")
		}
		field := models.FieldSupersededBy
		effects = append(effects, &models.MergeEffect{
			OperationID: op.ID,
			Seq:         nextSeq(),
			Kind:        models.EffectEntitySuperseded,
			EntityType:  op.EntityType,
			EntityID:    preview.SourceEntityID,
			Field:       &field,
			After:       after,
			Reason:      "entity absorbed by merge",
		})
	}

	return effects, nil
}

func (e *Engine) updateFields(ctx context.Context, entityType models.EntityType, id string, fields map[string]any, expectedVersion int) error {
	switch entityType {
	case models.EntityTypePlace:
		return e.placeRepo.UpdateFields(ctx, id, fields, expectedVersion)
	default:
		return e.personRepo.UpdateFields(ctx, id, fields, expectedVersion)
	}
}

func (e *Engine) setSupersededBy(ctx context.Context, entityType models.EntityType, id string, supersededBy *string) error {
	switch entityType {
	case models.EntityTypePlace:
		return e.placeRepo.SetSupersededBy(ctx, id, supersededBy)
	default:
		return e.personRepo.SetSupersededBy(ctx, id, supersededBy)
	}
}

// aliasForField maps an entity field onto the alias kind that mirrors it.
// Fields without an alias mirror return an empty kind.
func aliasForField(field, value string) (models.AliasKind, string) {
	switch field {
	case models.FieldDisplayName:
		return models.AliasKindName, normalizers.NormalizeName(value)
	case models.FieldPrimaryPhone:
		return models.AliasKindPhone, normalizers.NormalizePhone(value)
	case models.FieldPrimaryEmail:
		return models.AliasKindEmail, normalizers.NormalizeEmail(value)
	default:
		return "", ""
	}
}

// fieldValue maps a planned string value onto the column type: nullable
// columns store NULL for "no value", not an empty string.
func fieldValue(field, value string) any {
	switch field {
	case models.FieldPrimaryPhone, models.FieldPrimaryEmail, models.FieldAddress:
		return strPtr(value)
	default:
		return value
	}
}
