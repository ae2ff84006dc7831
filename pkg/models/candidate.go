package models

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
)

// MatchTier is the discrete confidence class of a candidate. Lower is more
// confident: tier 0 is auto-acceptable by policy, tier 3 always needs a
// human.
type MatchTier int

const (
	TierExactContact   MatchTier = 0 // contact identifier + name corroboration
	TierContactOnly    MatchTier = 1 // phone or email alone
	TierStrongName     MatchTier = 2 // high name similarity, optional address
	TierWeakName       MatchTier = 3 // name similarity only, manual review
)

// MatchCandidateStatus constants.
const (
	MatchCandidateStatusOpen       = "open"
	MatchCandidateStatusAccepted   = "accepted"
	MatchCandidateStatusRejected   = "rejected"
	MatchCandidateStatusSuperseded = "superseded"
)

// MatchEvidence is the typed record of why a candidate was proposed. It is
// persisted as JSONB; Extra is the only untyped escape hatch and must not
// carry anything decisions depend on.
type MatchEvidence struct {
	EmailMatched      bool              `json:"email_matched"`
	PhoneMatched      bool              `json:"phone_matched"`
	NameExact         bool              `json:"name_exact"`
	NameSimilarity    float64           `json:"name_similarity"`
	AddressMatched    bool              `json:"address_matched"`
	AddressSimilarity float64           `json:"address_similarity,omitempty"`
	Tier              MatchTier         `json:"tier"`
	NormalizedEmail   string            `json:"normalized_email,omitempty"`
	NormalizedPhone   string            `json:"normalized_phone,omitempty"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// MatchedFields lists the fields that corroborated the match, for review UI
// display and audit queries.
func (e MatchEvidence) MatchedFields() []string {
	fields := make([]string, 0, 3)
	if e.EmailMatched {
		fields = append(fields, FieldPrimaryEmail)
	}
	if e.PhoneMatched {
		fields = append(fields, FieldPrimaryPhone)
	}
	if e.NameExact || e.NameSimilarity > 0 {
		fields = append(fields, FieldDisplayName)
	}
	if e.AddressMatched {
		fields = append(fields, FieldAddress)
	}
	return fields
}

// MatchCandidate is a proposed link between one unlinked source record and a
// canonical person. Uniqueness is (source_system, source_record_id,
// candidate_entity_id); regeneration upserts on that key.
type MatchCandidate struct {
	ID                string     `json:"id" db:"id"`
	SourceSystem      string     `json:"source_system" db:"source_system"`
	SourceRecordID    string     `json:"source_record_id" db:"source_record_id"`
	CandidateEntityID string     `json:"candidate_entity_id" db:"candidate_entity_id"`
	EntityType        EntityType `json:"entity_type" db:"entity_type"`
	Confidence        float64    `json:"confidence" db:"confidence"`
	Tier              MatchTier  `json:"tier" db:"tier"`
	Evidence          JSONText   `json:"evidence" db:"evidence"`
	Status            string     `json:"status" db:"status"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy        *string    `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolutionNote    *string    `json:"resolution_note,omitempty" db:"resolution_note"`
}

// IsTerminal reports whether the candidate can no longer change state.
func (c *MatchCandidate) IsTerminal() bool {
	return c.Status == MatchCandidateStatusAccepted ||
		c.Status == MatchCandidateStatusRejected ||
		c.Status == MatchCandidateStatusSuperseded
}

// ParsedEvidence decodes the stored evidence payload.
func (c *MatchCandidate) ParsedEvidence() (MatchEvidence, error) {
	var ev MatchEvidence
	if err := c.Evidence.Unmarshal(&ev); err != nil {
		return MatchEvidence{}, httperror.NewHTTPError(http.StatusInternalServerError, "candidate evidence payload is corrupt")
	}
	return ev, nil
}

// GenerateCandidatesRequest triggers a generation pass.
type GenerateCandidatesRequest struct {
	SourceSystem  string  `json:"source_system"`
	Limit         int     `json:"limit"`
	MinConfidence float64 `json:"min_confidence"`
}

// RejectCandidateRequest carries the reviewer's reason.
type RejectCandidateRequest struct {
	Reason string `json:"reason" validate:"required"`
}
