package models

import (
	"time"
)

// MergeMethod records what initiated a merge operation.
type MergeMethod string

const (
	// MergeMethodCandidate is a merge executed from an accepted match candidate.
	MergeMethodCandidate MergeMethod = "candidate_accept"
	// MergeMethodManual is an explicit operator merge instruction.
	MergeMethodManual MergeMethod = "manual"
	// MergeMethodPromote creates a canonical entity from a source record.
	MergeMethodPromote MergeMethod = "promote"
	// MergeMethodAuto is a guarded automatic tier-0 acceptance.
	MergeMethodAuto MergeMethod = "auto"
)

// MergeOperation statuses. pending holds a computed preview only; executed
// means effects are applied; reverted means they were undone in reverse.
const (
	MergeOperationStatusPending  = "pending"
	MergeOperationStatusExecuted = "executed"
	MergeOperationStatusReverted = "reverted"
)

// MergeOperation records a previewed, executed, or reverted merge. Exactly
// one of SourceEntityID / (SourceSystem, SourceRecordID) is set: entity
// merges absorb another canonical entity, promote merges absorb a source
// record.
type MergeOperation struct {
	ID             string     `json:"id" db:"id"`
	EntityType     EntityType `json:"entity_type" db:"entity_type"`
	TargetEntityID string     `json:"target_entity_id" db:"target_entity_id"`
	SourceEntityID *string    `json:"source_entity_id,omitempty" db:"source_entity_id"`
	SourceSystem   *string    `json:"source_system,omitempty" db:"source_system"`
	SourceRecordID *string    `json:"source_record_id,omitempty" db:"source_record_id"`
	CandidateID    *string    `json:"candidate_id,omitempty" db:"candidate_id"`
	Method         MergeMethod `json:"method" db:"method"`
	Status         string     `json:"status" db:"status"`
	Preview        JSONText   `json:"preview,omitempty" db:"preview"`
	Reason         *string    `json:"reason,omitempty" db:"reason"`
	PerformedBy    *string    `json:"performed_by,omitempty" db:"performed_by"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	ExecutedAt     *time.Time `json:"executed_at,omitempty" db:"executed_at"`
	RevertedAt     *time.Time `json:"reverted_at,omitempty" db:"reverted_at"`
	RevertedBy     *string    `json:"reverted_by,omitempty" db:"reverted_by"`
}

// MergeEffectKind classifies one reversible step under an operation.
type MergeEffectKind string

const (
	EffectFieldUpdate      MergeEffectKind = "field_update"
	EffectAliasAdded       MergeEffectKind = "alias_added"
	EffectLinkCreated      MergeEffectKind = "link_created"
	EffectLinkSuperseded   MergeEffectKind = "link_superseded"
	EffectEntitySuperseded MergeEffectKind = "entity_superseded"
)

// MergeEffect is one field-level before/after change under a merge
// operation. Replaying effects in descending sequence restores the exact
// pre-merge state, which is what makes revert possible.
type MergeEffect struct {
	ID          string          `json:"id" db:"id"`
	OperationID string          `json:"operation_id" db:"operation_id"`
	Seq         int             `json:"seq" db:"seq"`
	Kind        MergeEffectKind `json:"kind" db:"kind"`
	EntityType  EntityType      `json:"entity_type" db:"entity_type"`
	EntityID    string          `json:"entity_id" db:"entity_id"`
	Field       *string         `json:"field,omitempty" db:"field"`
	Before      JSONText        `json:"before,omitempty" db:"before"`
	After       JSONText        `json:"after,omitempty" db:"after"`
	Reason      string          `json:"reason" db:"reason"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// FieldChange is one entry in a merge preview: what would change and why.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
	Reason string `json:"reason"`
}

// AliasAddition is one alias a merge would record.
type AliasAddition struct {
	Kind            AliasKind `json:"kind"`
	Value           string    `json:"value"`
	NormalizedValue string    `json:"normalized_value"`
	IsPrimary       bool      `json:"is_primary"`
}

// MergePreview is the computed dry-run payload stored on a pending
// operation. Nothing in it has been applied.
type MergePreview struct {
	EntityType     EntityType      `json:"entity_type"`
	TargetEntityID string          `json:"target_entity_id"`
	SourceEntityID string          `json:"source_entity_id,omitempty"`
	SourceKey      *SourceKey      `json:"source_key,omitempty"`
	FieldChanges   []FieldChange   `json:"field_changes"`
	AliasAdditions []AliasAddition `json:"alias_additions"`
	LinksToMove    int             `json:"links_to_move"`
}

// PreviewMergeRequest asks for a dry run between two canonical entities.
type PreviewMergeRequest struct {
	EntityType     EntityType `json:"entity_type" validate:"required,oneof=person place"`
	SourceEntityID string     `json:"source_entity_id" validate:"required,uuid"`
	TargetEntityID string     `json:"target_entity_id" validate:"required,uuid"`
}

// ExecuteMergeRequest executes a merge between two canonical entities.
type ExecuteMergeRequest struct {
	EntityType     EntityType `json:"entity_type" validate:"required,oneof=person place"`
	SourceEntityID string     `json:"source_entity_id" validate:"required,uuid"`
	TargetEntityID string     `json:"target_entity_id" validate:"required,uuid"`
	// PreferSource overrides the fill-missing policy: source values win on
	// conflict instead of being preserved as aliases only.
	PreferSource bool    `json:"prefer_source"`
	Reason       *string `json:"reason,omitempty"`
}

// PromoteRequest promotes a source record to a new canonical entity.
type PromoteRequest struct {
	EntityType EntityType `json:"entity_type" validate:"required,oneof=person place"`
	Force      bool       `json:"force"`
}

// MarkHistoricalRequest flags a source record as never auto-linkable.
type MarkHistoricalRequest struct {
	Reason string `json:"reason" validate:"required"`
	Force  bool   `json:"force"`
}
