package models

import (
	"time"
)

// AliasKind is the variant class an alias records.
type AliasKind string

const (
	AliasKindName       AliasKind = "name"
	AliasKindPhone      AliasKind = "phone"
	AliasKindEmail      AliasKind = "email"
	AliasKindAddress    AliasKind = "address"
	AliasKindExternalID AliasKind = "external_id"
)

// Alias is one observed name/phone/email/identifier variant for a canonical
// entity. Aliases are append-only: the primary flag can move, rows never go
// away. This is the system's memory of every value a person was ever
// recorded under, independent of which value is current.
type Alias struct {
	ID              string     `json:"id" db:"id"`
	EntityType      EntityType `json:"entity_type" db:"entity_type"`
	EntityID        string     `json:"entity_id" db:"entity_id"`
	Kind            AliasKind  `json:"kind" db:"kind"`
	Value           string     `json:"value" db:"value"`
	NormalizedValue string     `json:"normalized_value" db:"normalized_value"`
	SourceSystem    *string    `json:"source_system,omitempty" db:"source_system"`
	SourceRecordID  *string    `json:"source_record_id,omitempty" db:"source_record_id"`
	IsPrimary       bool       `json:"is_primary" db:"is_primary"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}
