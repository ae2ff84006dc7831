package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestEmitterDisabled(t *testing.T) {
	ctx := context.Background()

	t.Run("nil producer is a no-op", func(t *testing.T) {
		e := NewEmitter(nil, nil)
		assert.NotPanics(t, func() {
			e.EntityCreated(ctx, models.EntityTypePerson, "p-1")
			e.MergeExecuted(ctx, &models.MergeOperation{ID: "op-1", EntityType: models.EntityTypePerson, TargetEntityID: "p-1"})
			e.MergeReverted(ctx, &models.MergeOperation{ID: "op-1", EntityType: models.EntityTypePerson, TargetEntityID: "p-1"})
			e.RecordHistorical(ctx, models.SourceKey{SourceSystem: "clinic", SourceRecordID: "42"})
		})
	})

	t.Run("nil emitter is a no-op", func(t *testing.T) {
		var e *Emitter
		assert.NotPanics(t, func() {
			e.EntityCreated(ctx, models.EntityTypePerson, "p-1")
		})
	})
}
