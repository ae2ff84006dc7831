package models

import (
	"time"
)

// LinkMethod records how a source record got linked to a canonical entity.
type LinkMethod string

const (
	LinkMethodExact  LinkMethod = "exact"
	LinkMethodFuzzy  LinkMethod = "fuzzy"
	LinkMethodManual LinkMethod = "manual"
	LinkMethodSystem LinkMethod = "system"
)

// EntityLink maps (source_system, source_record_id) to a canonical entity.
// At most one link per source record per entity type is active; superseding
// a link deactivates the old row and records the replacement id. Rows are
// never deleted.
type EntityLink struct {
	ID                 string     `json:"id" db:"id"`
	SourceSystem       string     `json:"source_system" db:"source_system"`
	SourceRecordID     string     `json:"source_record_id" db:"source_record_id"`
	EntityType         EntityType `json:"entity_type" db:"entity_type"`
	EntityID           string     `json:"entity_id" db:"entity_id"`
	LinkMethod         LinkMethod `json:"link_method" db:"link_method"`
	Confidence         float64    `json:"confidence" db:"confidence"`
	IsActive           bool       `json:"is_active" db:"is_active"`
	SupersededByLinkID *string    `json:"superseded_by_link_id,omitempty" db:"superseded_by_link_id"`
	CreatedBy          *string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}
