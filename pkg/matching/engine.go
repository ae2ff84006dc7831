// Package matching implements candidate generation: proposing links between
// unlinked source records and canonical persons, never applying them.
package matching

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/alias"
	"github.com/Ramsey-B/fern/internal/repositories/matchcandidate"
	"github.com/Ramsey-B/fern/internal/repositories/person"
	"github.com/Ramsey-B/fern/internal/repositories/sourcerecord"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// EngineConfig contains the tier ladder thresholds.
type EngineConfig struct {
	Tier0ConfidenceEmail float64 // exact email + name corroboration
	Tier0ConfidencePhone float64 // exact phone + name corroboration
	Tier1Confidence      float64 // contact identifier alone
	Tier2Confidence      float64 // strong name similarity
	Tier3Confidence      float64 // weak name similarity
	Tier0NameSimilarity  float64 // name corroboration floor for tier 0
	Tier2NameSimilarity  float64 // strong-name floor
	Tier3NameSimilarity  float64 // weak-name floor
	BatchSize            int
}

// blockingThreshold is the pg_trgm cutoff for the fuzzy name pre-filter.
// Deliberately below Tier3NameSimilarity: the engine rescores in Go and
// discards, so the database only has to be generous, not right.
const blockingThreshold = 0.3

// Address corroboration for tier 2. Geocoding is out of scope, so proximity
// is normalized-address trigram similarity against the entity's observed
// address aliases. A corroborated tier-2 candidate gets a small confidence
// bump that stays within the tier-2 band.
const (
	addressSimilarityFloor = 0.85
	tier2AddressBonus      = 0.05
)

// Engine generates match candidates
type Engine struct {
	logger        ectologger.Logger
	sourceRepo    *sourcerecord.Repository
	personRepo    *person.Repository
	aliasRepo     *alias.Repository
	candidateRepo *matchcandidate.Repository
	scorer        *Scorer
	config        EngineConfig
}

// NewEngine creates a new match engine
func NewEngine(
	logger ectologger.Logger,
	sourceRepo *sourcerecord.Repository,
	personRepo *person.Repository,
	aliasRepo *alias.Repository,
	candidateRepo *matchcandidate.Repository,
	config EngineConfig,
) *Engine {
	return &Engine{
		logger:        logger,
		sourceRepo:    sourceRepo,
		personRepo:    personRepo,
		aliasRepo:     aliasRepo,
		candidateRepo: candidateRepo,
		scorer:        NewScorer(),
		config:        config,
	}
}

// BatchResult summarizes one generation pass.
type BatchResult struct {
	RecordsScanned  int           `json:"records_scanned"`
	CandidatesFound int           `json:"candidates_found"`
	ByTier          map[int]int   `json:"by_tier"`
	LastRecordID    string        `json:"-"`
	Tier0Candidates []string      `json:"-"` // candidate ids eligible for auto-accept
}

// tally folds the persisted batch into the result. The upsert clears the id
// on candidates whose pair was already resolved by review; those never count
// and never reach auto-accept.
func (r *BatchResult) tally(batch []*models.MatchCandidate) {
	for _, c := range batch {
		if c.ID == "" {
			continue
		}
		r.CandidatesFound++
		r.ByTier[int(c.Tier)]++
		if c.Tier == models.TierExactContact {
			r.Tier0Candidates = append(r.Tier0Candidates, c.ID)
		}
	}
}

// GenerateBatch scans unlinked source records and writes candidates for each.
// Historical-marked and already-linked records never enter the scan; the
// repository query excludes them. Safe to re-run: candidate upsert refreshes
// open rows and never touches resolved ones.
func (e *Engine) GenerateBatch(ctx context.Context, sourceSystem string, afterID string, limit int, minConfidence float64) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.GenerateBatch")
	defer span.End()

	if limit < 1 {
		limit = e.config.BatchSize
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"source_system": sourceSystem,
		"limit":         limit,
	})

	records, err := e.sourceRepo.ListUnlinked(ctx, sourceSystem, afterID, limit)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{ByTier: map[int]int{}}
	batch := make([]*models.MatchCandidate, 0, len(records))

	for i := range records {
		rec := &records[i]
		result.RecordsScanned++
		result.LastRecordID = rec.ID

		candidates, err := e.GenerateForRecord(ctx, rec)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"source_key": rec.Key().String()}).Warn("Failed to generate candidates for record")
			continue
		}
		for _, c := range candidates {
			if c.Confidence < minConfidence {
				continue
			}
			batch = append(batch, c)
		}
	}

	if err := e.candidateRepo.UpsertBatch(ctx, batch); err != nil {
		return nil, err
	}
	result.tally(batch)

	log.WithFields(map[string]any{
		"records_scanned":  result.RecordsScanned,
		"candidates_found": result.CandidatesFound,
	}).Info("Candidate generation pass complete")

	return result, nil
}

// GenerateForRecord computes candidates for one source record. The tier
// ladder short-circuits per candidate entity: an exact-contact hit is never
// also reported as a weak name hit.
func (e *Engine) GenerateForRecord(ctx context.Context, rec *models.SourceRecord) ([]*models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.GenerateForRecord")
	defer span.End()

	name := normalizers.NormalizeName(rec.Name())
	phone := normalizers.NormalizePhone(rec.Phone())
	email := normalizers.NormalizeEmail(rec.Email())
	address := normalizers.NormalizeAddress(rec.Address())

	// collect contact hits first
	hits := map[string]*recordHit{}

	if email != "" {
		ids, err := e.aliasRepo.FindEntityIDsByValue(ctx, models.EntityTypePerson, models.AliasKindEmail, email)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			h := hitFor(hits, id)
			h.emailMatched = true
		}
	}
	if phone != "" && len(phone) >= 11 {
		ids, err := e.aliasRepo.FindEntityIDsByValue(ctx, models.EntityTypePerson, models.AliasKindPhone, phone)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			h := hitFor(hits, id)
			h.phoneMatched = true
		}
	}

	// fuzzy name blocking for records with a usable name
	if name != "" {
		matches, err := e.aliasRepo.FindNameMatches(ctx, models.EntityTypePerson, name, blockingThreshold, 50)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			sim := e.scorer.NameSimilarity(name, m.NormalizedValue)
			h := hitFor(hits, m.EntityID)
			if sim > h.nameSim {
				h.nameSim = sim
			}
		}
	}

	if len(hits) == 0 {
		return nil, nil
	}

	// hydrate to drop superseded persons: candidates only ever point at
	// canonical heads
	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	persons, err := e.personRepo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]*models.MatchCandidate, 0, len(persons))
	for i := range persons {
		p := &persons[i]
		if p.SupersededBy != nil {
			continue
		}
		h := hits[p.ID]
		if h == nil {
			continue
		}

		// contact hits get name corroboration against the person's own
		// display name too, not just alias rows
		nameSim := h.nameSim
		if name != "" {
			if sim := e.scorer.NameSimilarity(name, normalizers.NormalizeName(p.DisplayName)); sim > nameSim {
				nameSim = sim
			}
		}

		// tier-2 shaped hits get address corroboration; contact hits are
		// already above that rung
		addressSim := 0.0
		if address != "" && !h.emailMatched && !h.phoneMatched && nameSim >= e.config.Tier2NameSimilarity {
			addressSim, err = e.addressSimilarity(ctx, p.ID, address)
			if err != nil {
				return nil, err
			}
		}

		candidate := e.classify(rec, p, h.emailMatched, h.phoneMatched, nameSim, addressSim, email, phone)
		if candidate != nil {
			candidates = append(candidates, candidate)
		}
	}

	return candidates, nil
}

// classify assigns the tier and confidence for one (record, person) pair,
// or returns nil when the evidence clears no rung of the ladder.
func (e *Engine) classify(rec *models.SourceRecord, p *models.Person, emailMatched, phoneMatched bool, nameSim, addressSim float64, email, phone string) *models.MatchCandidate {
	nameExact := nameSim >= 0.9999
	addressMatched := addressSim >= addressSimilarityFloor

	var tier models.MatchTier
	var confidence float64

	switch {
	case emailMatched && nameSim >= e.config.Tier0NameSimilarity:
		tier, confidence = models.TierExactContact, e.config.Tier0ConfidenceEmail
	case phoneMatched && nameSim >= e.config.Tier0NameSimilarity:
		tier, confidence = models.TierExactContact, e.config.Tier0ConfidencePhone
	case emailMatched || phoneMatched:
		tier, confidence = models.TierContactOnly, e.config.Tier1Confidence
	case nameSim >= e.config.Tier2NameSimilarity:
		tier, confidence = models.TierStrongName, e.config.Tier2Confidence
		if addressMatched {
			confidence += tier2AddressBonus
		}
	case nameSim >= e.config.Tier3NameSimilarity:
		tier, confidence = models.TierWeakName, e.config.Tier3Confidence
	default:
		return nil
	}

	evidence := models.MatchEvidence{
		EmailMatched:   emailMatched,
		PhoneMatched:   phoneMatched,
		NameExact:      nameExact,
		NameSimilarity: nameSim,
		Tier:           tier,
	}
	if tier == models.TierStrongName {
		evidence.AddressMatched = addressMatched
		evidence.AddressSimilarity = addressSim
	}
	if emailMatched {
		evidence.NormalizedEmail = email
	}
	if phoneMatched {
		evidence.NormalizedPhone = phone
	}

	payload, err := models.MarshalJSONText(evidence)
	if err != nil {
		e.logger.WithError(err).Error("Failed to encode match evidence")
		return nil
	}

	return &models.MatchCandidate{
		SourceSystem:      rec.SourceSystem,
		SourceRecordID:    rec.SourceRecordID,
		CandidateEntityID: p.ID,
		EntityType:        models.EntityTypePerson,
		Confidence:        confidence,
		Tier:              tier,
		Evidence:          payload,
		Status:            models.MatchCandidateStatusOpen,
	}
}

// addressSimilarity scores the record's normalized address against the best
// of the person's observed address aliases.
func (e *Engine) addressSimilarity(ctx context.Context, entityID, address string) (float64, error) {
	aliases, err := e.aliasRepo.ListByEntity(ctx, models.EntityTypePerson, entityID)
	if err != nil {
		return 0, err
	}

	best := 0.0
	for i := range aliases {
		if aliases[i].Kind != models.AliasKindAddress {
			continue
		}
		if sim := e.scorer.Trigram(address, aliases[i].NormalizedValue); sim > best {
			best = sim
		}
	}
	return best, nil
}

// recordHit accumulates per-entity evidence while scanning one record.
type recordHit struct {
	emailMatched bool
	phoneMatched bool
	nameSim      float64
}

func hitFor(hits map[string]*recordHit, id string) *recordHit {
	h := hits[id]
	if h == nil {
		h = &recordHit{}
		hits[id] = h
	}
	return h
}
