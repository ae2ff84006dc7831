// Package events publishes registry change events for downstream views and
// reporting. Publishing is best effort: the registry database is the source
// of truth, so a failed publish is logged and counted but never fails the
// operation that triggered it.
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Event types on the registry topic.
const (
	TypeEntityCreated    = "entity.created"
	TypeEntityMerged     = "entity.merged"
	TypeMergeReverted    = "merge.reverted"
	TypeRecordLinked     = "record.linked"
	TypeRecordUnlinked   = "record.unlinked"
	TypeRecordHistorical = "record.historical"
)

// EntityEvent is the wire shape for every registry event. Fields that don't
// apply to a given type are omitted.
type EntityEvent struct {
	EventType      string            `json:"event_type"`
	EntityType     models.EntityType `json:"entity_type,omitempty"`
	EntityID       string            `json:"entity_id,omitempty"`
	SourceEntityID string            `json:"source_entity_id,omitempty"`
	SourceSystem   string            `json:"source_system,omitempty"`
	SourceRecordID string            `json:"source_record_id,omitempty"`
	OperationID    string            `json:"operation_id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Emitter publishes registry events. A nil producer disables publishing,
// which keeps local and test setups free of a Kafka dependency.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{producer: producer, logger: logger}
}

// EntityCreated announces a new canonical entity (promotion path).
func (e *Emitter) EntityCreated(ctx context.Context, entityType models.EntityType, entityID string) {
	e.emit(ctx, EntityEvent{
		EventType:  TypeEntityCreated,
		EntityType: entityType,
		EntityID:   entityID,
	})
}

// MergeExecuted announces an executed merge operation.
func (e *Emitter) MergeExecuted(ctx context.Context, op *models.MergeOperation) {
	evt := EntityEvent{
		EventType:   TypeEntityMerged,
		EntityType:  op.EntityType,
		EntityID:    op.TargetEntityID,
		OperationID: op.ID,
	}
	if op.SourceEntityID != nil {
		evt.SourceEntityID = *op.SourceEntityID
	}
	if op.SourceSystem != nil && op.SourceRecordID != nil {
		evt.EventType = TypeRecordLinked
		evt.SourceSystem = *op.SourceSystem
		evt.SourceRecordID = *op.SourceRecordID
	}
	e.emit(ctx, evt)
}

// MergeReverted announces a reverted merge operation.
func (e *Emitter) MergeReverted(ctx context.Context, op *models.MergeOperation) {
	evt := EntityEvent{
		EventType:   TypeMergeReverted,
		EntityType:  op.EntityType,
		EntityID:    op.TargetEntityID,
		OperationID: op.ID,
	}
	if op.SourceEntityID != nil {
		evt.SourceEntityID = *op.SourceEntityID
	}
	if op.SourceSystem != nil && op.SourceRecordID != nil {
		evt.SourceSystem = *op.SourceSystem
		evt.SourceRecordID = *op.SourceRecordID
	}
	e.emit(ctx, evt)
}

// RecordHistorical announces a historical-only marker on a source record.
func (e *Emitter) RecordHistorical(ctx context.Context, key models.SourceKey) {
	e.emit(ctx, EntityEvent{
		EventType:      TypeRecordHistorical,
		SourceSystem:   key.SourceSystem,
		SourceRecordID: key.SourceRecordID,
	})
}

func (e *Emitter) emit(ctx context.Context, evt EntityEvent) {
	if e == nil || e.producer == nil {
		return
	}
	evt.Timestamp = time.Now().UTC()

	key := evt.EntityID
	if key == "" {
		key = evt.SourceSystem + ":" + evt.SourceRecordID
	}

	if err := e.producer.Publish(ctx, key, evt.EventType, evt); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(evt.EventType, "error").Inc()
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": evt.EventType,
			"entity_id":  evt.EntityID,
		}).Error("Failed to publish registry event")
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(evt.EventType, "success").Inc()
}
