package models

import (
	"time"
)

// RecencyBucket classifies how current a source record's latest activity is.
// The resurgence band exists because clients resurface in seasonal bursts; a
// naive "inactive >1 year" rule mislabels real current clients.
type RecencyBucket string

const (
	RecencyActive     RecencyBucket = "active"     // seen within 24 months
	RecencyResurgence RecencyBucket = "resurgence" // 24-36 months
	RecencyFade       RecencyBucket = "fade"       // 36-48 months
	RecencyArchival   RecencyBucket = "archival"   // older than 48 months
)

// EntityKind classifies what a source record actually represents.
type EntityKind string

const (
	KindPersonLike EntityKind = "person_like"
	KindPlaceLike  EntityKind = "place_like"
	KindColonyLike EntityKind = "colony_like"
	KindUnknown    EntityKind = "unknown"
)

// Classification is the derived, read-time annotation for one source record.
// It is recomputed on demand from current source data and never persisted as
// ground truth.
type Classification struct {
	SourceKey           SourceKey     `json:"source_key"`
	MonthsSinceLastSeen float64       `json:"months_since_last_seen"`
	RecencyBucket       RecencyBucket `json:"recency_bucket"`
	EntityKind          EntityKind    `json:"entity_kind"`
	QualityScore        int           `json:"quality_score"`
	HasPhone            bool          `json:"has_phone"`
	HasEmail            bool          `json:"has_email"`
	HasAddress          bool          `json:"has_address"`
	PromotableToPerson  bool          `json:"promotable_to_person"`
	PromotableToPlace   bool          `json:"promotable_to_place"`
	Demotable           bool          `json:"demotable"`
	AsOf                time.Time     `json:"as_of"`
}

// HistoricalMarker is an explicit, auditable decision that a source record
// must never be auto-linked. The classification at marking time is snapshot
// so the decision can be reviewed later.
type HistoricalMarker struct {
	ID              string        `json:"id" db:"id"`
	SourceSystem    string        `json:"source_system" db:"source_system"`
	SourceRecordID  string        `json:"source_record_id" db:"source_record_id"`
	Reason          string        `json:"reason" db:"reason"`
	Forced          bool          `json:"forced" db:"forced"`
	BucketAtMarking RecencyBucket `json:"bucket_at_marking" db:"bucket_at_marking"`
	KindAtMarking   EntityKind    `json:"kind_at_marking" db:"kind_at_marking"`
	CreatedBy       *string       `json:"created_by,omitempty" db:"created_by"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
}

// CodeKind groups rows in the classification_codes lookup table.
type CodeKind string

const (
	CodeKindRecencyBucket CodeKind = "recency_bucket"
	CodeKindEntityKind    CodeKind = "entity_kind"
	CodeKindPlaceKind     CodeKind = "place_kind"
	CodeKindLinkMethod    CodeKind = "link_method"
)

// ClassificationCode is one row of the lookup-table-as-enum mapping. The Go
// constants above are the closed set the code switches on; this table is the
// single source of truth for labels and lets operators stage new variants
// without a migration.
type ClassificationCode struct {
	ID        string    `json:"id" db:"id"`
	CodeKind  CodeKind  `json:"code_kind" db:"code_kind"`
	Code      string    `json:"code" db:"code"`
	Label     string    `json:"label" db:"label"`
	SortOrder int       `json:"sort_order" db:"sort_order"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
