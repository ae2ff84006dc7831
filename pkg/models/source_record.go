package models

import (
	"time"
)

// SourceRecord is an as-ingested row from one external system. The core never
// edits the raw payload; intake upserts refresh last_seen_at and the content
// hash, and everything else only references it.
type SourceRecord struct {
	ID               string     `json:"id" db:"id"`
	SourceSystem     string     `json:"source_system" db:"source_system"`
	SourceRecordID   string     `json:"source_record_id" db:"source_record_id"`
	RawName          *string    `json:"raw_name,omitempty" db:"raw_name"`
	RawPhone         *string    `json:"raw_phone,omitempty" db:"raw_phone"`
	RawEmail         *string    `json:"raw_email,omitempty" db:"raw_email"`
	RawAddress       *string    `json:"raw_address,omitempty" db:"raw_address"`
	ContentHash      string     `json:"content_hash" db:"content_hash"`
	FirstSeenAt      time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt       time.Time  `json:"last_seen_at" db:"last_seen_at"`
	ObservationCount int        `json:"observation_count" db:"observation_count"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Key returns the natural key used for links, candidates and markers.
func (r *SourceRecord) Key() SourceKey {
	return SourceKey{SourceSystem: r.SourceSystem, SourceRecordID: r.SourceRecordID}
}

// Name returns the raw name or "".
func (r *SourceRecord) Name() string {
	return deref(r.RawName)
}

// Phone returns the raw phone or "".
func (r *SourceRecord) Phone() string {
	return deref(r.RawPhone)
}

// Email returns the raw email or "".
func (r *SourceRecord) Email() string {
	return deref(r.RawEmail)
}

// Address returns the raw address or "".
func (r *SourceRecord) Address() string {
	return deref(r.RawAddress)
}

// SourceKey identifies a source record by its natural key.
type SourceKey struct {
	SourceSystem   string `json:"source_system"`
	SourceRecordID string `json:"source_record_id"`
}

func (k SourceKey) String() string {
	return k.SourceSystem + ":" + k.SourceRecordID
}

// IngestedRow is the normalized row shape deposited by the upstream ingestion
// jobs on the intake topic. Fern only consumes this shape; source-specific
// parsing happens upstream.
type IngestedRow struct {
	SourceSystem   string    `json:"source_system"`
	SourceRecordID string    `json:"source_record_id"`
	Name           string    `json:"name,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Email          string    `json:"email,omitempty"`
	Address        string    `json:"address,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
	ContentHash    string    `json:"content_hash,omitempty"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringPtr returns nil for "" and a pointer otherwise. Used when mapping
// intake rows onto nullable columns.
func StringPtr(s string) *string {
	return ptr(s)
}
