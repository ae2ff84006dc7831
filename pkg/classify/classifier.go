// Package classify derives recency buckets, entity kinds, and promotion
// guardrails for source records. Classification is a pure read-time
// derivation: it is recomputed from current source data on every call and
// never persisted as ground truth.
package classify

import (
	"regexp"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Policy holds the tunable classification boundaries. Every threshold is
// configuration, not a constant, so operators can adjust without a release.
type Policy struct {
	ActiveMonths     int // bucket active: months since last seen <= this
	ResurgenceMonths int // bucket resurgence: <= this
	FadeMonths       int // bucket fade: <= this; beyond is archival

	PromotionQualityFloor int // quality score that makes a record promotable regardless of recency
	DemotionQualityGuard  int // fade records at or above this quality are protected from demotion

	WeightEmail    int
	WeightPhone    int
	WeightAddress  int
	WeightMultiObs int
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		ActiveMonths:          24,
		ResurgenceMonths:      36,
		FadeMonths:            48,
		PromotionQualityFloor: 70,
		DemotionQualityGuard:  50,
		WeightEmail:           30,
		WeightPhone:           40,
		WeightAddress:         20,
		WeightMultiObs:        10,
	}
}

// Classifier classifies source records. Stateless and safe for concurrent
// use.
type Classifier struct {
	policy Policy
}

// New creates a Classifier with the given policy.
func New(policy Policy) *Classifier {
	return &Classifier{policy: policy}
}

// Name and address heuristics. Colony patterns take priority over place
// patterns, place over person.
var (
	colonyPattern = regexp.MustCompile(`(?i)\b(colony|colonies|feral|ferals|strays?|barn\s+cats?|tnr|encampment)\b`)
	placePattern  = regexp.MustCompile(`(?i)\b(llc|inc|corp|co|company|ranch|farm|dairy|winery|vineyard|orchard|market|store|shop|church|school|park|apartments?|mhp|mobile\s+home|trailer\s+park|village|estates?|resort|motel|hotel|storage|center|plaza|properties)\b`)
	// street-address-shaped: leading house number followed by words
	addressShaped = regexp.MustCompile(`^\s*\d+\s+\S+`)

	complexPattern = regexp.MustCompile(`(?i)\b(apartments?|mhp|mobile\s+home|trailer\s+park|village|estates?|complex)\b`)
)

// Classify computes the full classification for a source record as of the
// given instant. Callers pass now explicitly so bucket boundaries are
// deterministic under test.
func (c *Classifier) Classify(rec *models.SourceRecord, now time.Time) models.Classification {
	months := monthsBetween(rec.LastSeenAt, now)
	bucket := c.recencyBucket(months)

	phone := normalizers.NormalizePhone(rec.Phone())
	email := normalizers.NormalizeEmail(rec.Email())
	hasPhone := len(phone) >= 11 // short best-effort digits are not usable contact evidence
	hasEmail := email != ""
	hasAddress := normalizers.NormalizeAddress(rec.Address()) != ""

	kind := c.entityKind(rec.Name(), rec.Address(), hasPhone || hasEmail)
	quality := c.qualityScore(hasEmail, hasPhone, hasAddress, rec.ObservationCount)

	return models.Classification{
		SourceKey:           rec.Key(),
		MonthsSinceLastSeen: months,
		RecencyBucket:       bucket,
		EntityKind:          kind,
		QualityScore:        quality,
		HasPhone:            hasPhone,
		HasEmail:            hasEmail,
		HasAddress:          hasAddress,
		PromotableToPerson:  c.promotableToPerson(kind, bucket, hasPhone || hasEmail, quality),
		PromotableToPlace:   c.promotableToPlace(kind, rec.Name(), hasAddress),
		Demotable:           c.demotable(bucket, quality),
		AsOf:                now,
	}
}

func (c *Classifier) recencyBucket(months float64) models.RecencyBucket {
	switch {
	case months <= float64(c.policy.ActiveMonths):
		return models.RecencyActive
	case months <= float64(c.policy.ResurgenceMonths):
		return models.RecencyResurgence
	case months <= float64(c.policy.FadeMonths):
		return models.RecencyFade
	default:
		return models.RecencyArchival
	}
}

func (c *Classifier) entityKind(name, address string, hasContact bool) models.EntityKind {
	text := name + " " + address

	if colonyPattern.MatchString(text) {
		return models.KindColonyLike
	}
	if placePattern.MatchString(text) || addressShaped.MatchString(name) {
		return models.KindPlaceLike
	}
	// a bare name with no usable phone or email is not enough evidence to
	// call the record a person
	if normalizers.NormalizeName(name) != "" && hasContact {
		return models.KindPersonLike
	}
	return models.KindUnknown
}

func (c *Classifier) qualityScore(hasEmail, hasPhone, hasAddress bool, observations int) int {
	score := 0
	if hasEmail {
		score += c.policy.WeightEmail
	}
	if hasPhone {
		score += c.policy.WeightPhone
	}
	if hasAddress {
		score += c.policy.WeightAddress
	}
	if observations > 1 {
		score += c.policy.WeightMultiObs
	}
	return score
}

func (c *Classifier) promotableToPerson(kind models.EntityKind, bucket models.RecencyBucket, hasContact bool, quality int) bool {
	if kind == models.KindPlaceLike || kind == models.KindColonyLike {
		return false
	}
	recentWithContact := (bucket == models.RecencyActive || bucket == models.RecencyResurgence) && hasContact
	return recentWithContact || quality >= c.policy.PromotionQualityFloor
}

func (c *Classifier) promotableToPlace(kind models.EntityKind, name string, hasAddress bool) bool {
	if kind == models.KindPlaceLike || kind == models.KindColonyLike {
		return true
	}
	return addressShaped.MatchString(name) && hasAddress
}

// demotable is the guardrail that keeps a live contact from being quietly
// flagged historical-only: active and resurgence records are never
// demotable, and neither are fade records with decent data quality.
func (c *Classifier) demotable(bucket models.RecencyBucket, quality int) bool {
	switch bucket {
	case models.RecencyActive, models.RecencyResurgence:
		return false
	case models.RecencyFade:
		return quality < c.policy.DemotionQualityGuard
	default:
		return true
	}
}

// PlaceKindFor maps a classified kind onto the place_kind tag used when
// promoting to a canonical place.
func PlaceKindFor(kind models.EntityKind, name string) models.PlaceKind {
	switch kind {
	case models.KindColonyLike:
		return models.PlaceKindColony
	case models.KindPlaceLike:
		if complexPattern.MatchString(name) {
			return models.PlaceKindComplex
		}
		return models.PlaceKindBusiness
	default:
		return models.PlaceKindOther
	}
}

// monthsBetween returns fractional months between two instants using the
// mean month length. Precision beyond a day is irrelevant at these
// boundaries.
func monthsBetween(from, to time.Time) float64 {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return to.Sub(from).Hours() / 24 / 30.4375
}
