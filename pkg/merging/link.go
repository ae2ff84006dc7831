package merging

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/classify"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// LinkRecord links a source record to an existing canonical entity: fill
// missing entity fields from the record, append the record's values as
// aliases, and create the registry link. One transaction, one journaled
// operation, same revert guarantees as an entity merge.
func (e *Engine) LinkRecord(
	ctx context.Context,
	rec *models.SourceRecord,
	entityType models.EntityType,
	entityID string,
	method models.MergeMethod,
	linkMethod models.LinkMethod,
	confidence float64,
	candidateID *string,
	performedBy string,
) (*models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.LinkRecord")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"source_key":  rec.Key().String(),
		"entity_type": entityType,
		"entity_id":   entityID,
	})

	linked, err := e.linkRepo.HasActiveLink(ctx, rec.SourceSystem, rec.SourceRecordID, entityType)
	if err != nil {
		return nil, err
	}
	if linked {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "source record %s is already linked", rec.Key().String())
	}

	ctxTx, tx, err := e.opRepo.DB().GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin link transaction")
	}
	defer tx.Rollback(ctxTx)

	targetFields, version, err := e.lockEntityWithVersion(ctxTx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	sourceFields := recordFields(rec, entityType)
	preview := &models.MergePreview{
		EntityType:     entityType,
		TargetEntityID: entityID,
		SourceKey:      &models.SourceKey{SourceSystem: rec.SourceSystem, SourceRecordID: rec.SourceRecordID},
		FieldChanges:   planFieldChanges(targetFields, sourceFields, false),
		AliasAdditions: aliasAdditionsForRecord(rec),
	}

	payload, err := models.MarshalJSONText(preview)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge preview")
	}

	op := &models.MergeOperation{
		EntityType:     entityType,
		TargetEntityID: entityID,
		SourceSystem:   &rec.SourceSystem,
		SourceRecordID: &rec.SourceRecordID,
		CandidateID:    candidateID,
		Method:         method,
		Status:         models.MergeOperationStatusPending,
		Preview:        payload,
		PerformedBy:    strPtr(performedBy),
	}
	if op, err = e.opRepo.Create(ctxTx, op); err != nil {
		return nil, err
	}

	effects, err := e.apply(ctxTx, op, preview, pairVersions{target: version})
	if err != nil {
		return nil, err
	}

	// the link itself
	link, err := e.linkRepo.Create(ctxTx, &models.EntityLink{
		SourceSystem:   rec.SourceSystem,
		SourceRecordID: rec.SourceRecordID,
		EntityType:     entityType,
		EntityID:       entityID,
		LinkMethod:     linkMethod,
		Confidence:     confidence,
		CreatedBy:      strPtr(performedBy),
	})
	if err != nil {
		return nil, err
	}
	linkID, err := models.MarshalJSONText(link.ID)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge effect")
	}
	effects = append(effects, &models.MergeEffect{
		OperationID: op.ID,
		Seq:         len(effects) + 1,
		Kind:        models.EffectLinkCreated,
		EntityType:  entityType,
		EntityID:    entityID,
		After:       linkID,
		Reason:      "source record linked",
	})

	if err := e.opRepo.AddEffects(ctxTx, effects); err != nil {
		return nil, err
	}
	if err := e.opRepo.MarkExecuted(ctxTx, op.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit link")
	}

	op.Status = models.MergeOperationStatusExecuted
	metrics.MergesTotal.WithLabelValues(string(op.Method), "executed").Inc()
	log.WithFields(map[string]any{"operation_id": op.ID}).Info("Source record linked")
	return op, nil
}

// Promote creates a new canonical entity from a source record and links the
// record to it. Classification guardrails apply unless the request is
// forced; a forced promote still records that it was forced.
func (e *Engine) Promote(
	ctx context.Context,
	rec *models.SourceRecord,
	cls models.Classification,
	req models.PromoteRequest,
	performedBy string,
) (*models.MergeOperation, string, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Promote")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"source_key":  rec.Key().String(),
		"entity_type": req.EntityType,
		"forced":      req.Force,
	})

	if !req.Force {
		switch req.EntityType {
		case models.EntityTypePlace:
			if !cls.PromotableToPlace {
				metrics.GuardrailBlocksTotal.WithLabelValues("promote_place").Inc()
				return nil, "", httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "record %s does not look place-like (kind=%s, bucket=%s); pass force to override", rec.Key().String(), cls.EntityKind, cls.RecencyBucket)
			}
		default:
			if !cls.PromotableToPerson {
				metrics.GuardrailBlocksTotal.WithLabelValues("promote_person").Inc()
				return nil, "", httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "record %s does not meet person promotion guardrails (kind=%s, bucket=%s, quality=%d); pass force to override", rec.Key().String(), cls.EntityKind, cls.RecencyBucket, cls.QualityScore)
			}
		}
	}

	linked, err := e.linkRepo.HasActiveLink(ctx, rec.SourceSystem, rec.SourceRecordID, req.EntityType)
	if err != nil {
		return nil, "", err
	}
	if linked {
		return nil, "", httperror.NewHTTPErrorf(http.StatusConflict, "source record %s is already linked", rec.Key().String())
	}

	ctxTx, tx, err := e.opRepo.DB().GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin promote transaction")
	}
	defer tx.Rollback(ctxTx)

	entityID, err := e.createEntityFromRecord(ctxTx, rec, cls, req.EntityType)
	if err != nil {
		return nil, "", err
	}

	preview := &models.MergePreview{
		EntityType:     req.EntityType,
		TargetEntityID: entityID,
		SourceKey:      &models.SourceKey{SourceSystem: rec.SourceSystem, SourceRecordID: rec.SourceRecordID},
		AliasAdditions: aliasAdditionsForRecord(rec),
	}
	payload, err := models.MarshalJSONText(preview)
	if err != nil {
		return nil, "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge preview")
	}

	reason := ReasonPromote
	if req.Force {
		reason = "promote (forced past guardrails)"
	}
	op := &models.MergeOperation{
		EntityType:     req.EntityType,
		TargetEntityID: entityID,
		SourceSystem:   &rec.SourceSystem,
		SourceRecordID: &rec.SourceRecordID,
		Method:         models.MergeMethodPromote,
		Status:         models.MergeOperationStatusPending,
		Preview:        payload,
		Reason:         &reason,
		PerformedBy:    strPtr(performedBy),
	}
	if op, err = e.opRepo.Create(ctxTx, op); err != nil {
		return nil, "", err
	}

	effects, err := e.apply(ctxTx, op, preview, pairVersions{target: 1})
	if err != nil {
		return nil, "", err
	}

	link, err := e.linkRepo.Create(ctxTx, &models.EntityLink{
		SourceSystem:   rec.SourceSystem,
		SourceRecordID: rec.SourceRecordID,
		EntityType:     req.EntityType,
		EntityID:       entityID,
		LinkMethod:     models.LinkMethodManual,
		Confidence:     1.0,
		CreatedBy:      strPtr(performedBy),
	})
	if err != nil {
		return nil, "", err
	}
	linkID, err := models.MarshalJSONText(link.ID)
	if err != nil {
		return nil, "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge effect")
	}
	effects = append(effects, &models.MergeEffect{
		OperationID: op.ID,
		Seq:         len(effects) + 1,
		Kind:        models.EffectLinkCreated,
		EntityType:  req.EntityType,
		EntityID:    entityID,
		After:       linkID,
		Reason:      "record promoted to new entity",
	})

	if err := e.opRepo.AddEffects(ctxTx, effects); err != nil {
		return nil, "", err
	}
	if err := e.opRepo.MarkExecuted(ctxTx, op.ID); err != nil {
		return nil, "", err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit promote")
	}

	op.Status = models.MergeOperationStatusExecuted
	metrics.MergesTotal.WithLabelValues(string(op.Method), "executed").Inc()
	log.WithFields(map[string]any{"operation_id": op.ID, "entity_id": entityID}).Info("Source record promoted")
	return op, entityID, nil
}

func (e *Engine) createEntityFromRecord(ctx context.Context, rec *models.SourceRecord, cls models.Classification, entityType models.EntityType) (string, error) {
	name := rec.Name()
	if name == "" {
		return "", httperror.NewHTTPError(http.StatusUnprocessableEntity, "cannot promote a record with no name")
	}

	switch entityType {
	case models.EntityTypePlace:
		p, err := e.placeRepo.Create(ctx, &models.Place{
			DisplayName: name,
			Address:     strPtr(rec.Address()),
			PlaceKind:   classify.PlaceKindFor(cls.EntityKind, name),
		})
		if err != nil {
			return "", err
		}
		return p.ID, nil
	default:
		p, err := e.personRepo.Create(ctx, &models.Person{
			DisplayName:  name,
			PrimaryPhone: strPtr(normalizers.NormalizePhone(rec.Phone())),
			PrimaryEmail: strPtr(normalizers.NormalizeEmail(rec.Email())),
		})
		if err != nil {
			return "", err
		}
		return p.ID, nil
	}
}

func (e *Engine) lockEntityWithVersion(ctx context.Context, entityType models.EntityType, id string) (map[string]string, int, error) {
	switch entityType {
	case models.EntityTypePlace:
		p, err := e.placeRepo.GetForUpdate(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if p.SupersededBy != nil {
			return nil, 0, httperror.NewHTTPErrorf(http.StatusConflict, "place %s is superseded; link against its canonical head", id)
		}
		return p.FieldValues(), p.Version, nil
	default:
		p, err := e.personRepo.GetForUpdate(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if p.SupersededBy != nil {
			return nil, 0, httperror.NewHTTPErrorf(http.StatusConflict, "person %s is superseded; link against its canonical head", id)
		}
		return p.FieldValues(), p.Version, nil
	}
}

// recordFields normalizes a source record into the entity field map used by
// the fill-missing planner. Contact fields land normalized; the raw variants
// are preserved through the alias additions instead.
func recordFields(rec *models.SourceRecord, entityType models.EntityType) map[string]string {
	switch entityType {
	case models.EntityTypePlace:
		return map[string]string{
			models.FieldDisplayName: rec.Name(),
			models.FieldAddress:     rec.Address(),
		}
	default:
		return map[string]string{
			models.FieldDisplayName:  rec.Name(),
			models.FieldPrimaryPhone: normalizers.NormalizePhone(rec.Phone()),
			models.FieldPrimaryEmail: normalizers.NormalizeEmail(rec.Email()),
		}
	}
}
