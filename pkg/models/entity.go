package models

import (
	"time"
)

// EntityType discriminates the two canonical entity tables.
type EntityType string

const (
	EntityTypePerson EntityType = "person"
	EntityTypePlace  EntityType = "place"
)

// PlaceKind tags what a canonical place actually is. The closed set lives
// here; labels and additions come from the classification_codes table.
type PlaceKind string

const (
	PlaceKindBusiness PlaceKind = "business"
	PlaceKindComplex  PlaceKind = "complex"
	PlaceKindColony   PlaceKind = "colony"
	PlaceKindOther    PlaceKind = "other"
)

// Person is the canonical, deduplicated record for a human being. Only the
// merge engine creates or mutates persons; read paths never create them.
type Person struct {
	ID           string     `json:"id" db:"id"`
	DisplayName  string     `json:"display_name" db:"display_name"`
	PrimaryPhone *string    `json:"primary_phone,omitempty" db:"primary_phone"`
	PrimaryEmail *string    `json:"primary_email,omitempty" db:"primary_email"`
	// SupersededBy points at the person this record was merged into.
	// Chains are resolved iteratively with a depth guard, never recursively.
	SupersededBy *string    `json:"superseded_by,omitempty" db:"superseded_by"`
	Version      int        `json:"version" db:"version"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// FieldValues returns the mergeable fields as a name->value map. Empty
// strings mean "missing"; the merge engine's fill-missing policy keys off
// that.
func (p *Person) FieldValues() map[string]string {
	return map[string]string{
		FieldDisplayName:  p.DisplayName,
		FieldPrimaryPhone: deref(p.PrimaryPhone),
		FieldPrimaryEmail: deref(p.PrimaryEmail),
	}
}

// Place is the canonical record for a business, complex, or colony site.
type Place struct {
	ID           string     `json:"id" db:"id"`
	DisplayName  string     `json:"display_name" db:"display_name"`
	Address      *string    `json:"address,omitempty" db:"address"`
	PlaceKind    PlaceKind  `json:"place_kind" db:"place_kind"`
	SupersededBy *string    `json:"superseded_by,omitempty" db:"superseded_by"`
	Version      int        `json:"version" db:"version"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// FieldValues returns the mergeable place fields.
func (p *Place) FieldValues() map[string]string {
	return map[string]string{
		FieldDisplayName: p.DisplayName,
		FieldAddress:     deref(p.Address),
		FieldPlaceKind:   string(p.PlaceKind),
	}
}

// Canonical field names shared by the merge engine and its effect log.
const (
	FieldDisplayName  = "display_name"
	FieldPrimaryPhone = "primary_phone"
	FieldPrimaryEmail = "primary_email"
	FieldAddress      = "address"
	FieldPlaceKind    = "place_kind"
	FieldSupersededBy = "superseded_by"
)

// PersonView joins a person with its aliases and linked source count for the
// downstream UI.
type PersonView struct {
	Person            Person  `json:"person"`
	Aliases           []Alias `json:"aliases"`
	LinkedSourceCount int     `json:"linked_source_count"`
}

// PlaceView joins a place with its aliases and linked source count.
type PlaceView struct {
	Place             Place   `json:"place"`
	Aliases           []Alias `json:"aliases"`
	LinkedSourceCount int     `json:"linked_source_count"`
}
