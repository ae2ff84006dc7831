package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

var testNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func record(name, phone, email, address string, monthsAgo int, observations int) *models.SourceRecord {
	return &models.SourceRecord{
		ID:               "sr-test",
		SourceSystem:     "clinic",
		SourceRecordID:   "42",
		RawName:          models.StringPtr(name),
		RawPhone:         models.StringPtr(phone),
		RawEmail:         models.StringPtr(email),
		RawAddress:       models.StringPtr(address),
		LastSeenAt:       testNow.AddDate(0, -monthsAgo, -1),
		ObservationCount: observations,
	}
}

func TestRecencyBuckets(t *testing.T) {
	c := New(DefaultPolicy())

	tests := []struct {
		name      string
		monthsAgo int
		expected  models.RecencyBucket
	}{
		{name: "seen last week", monthsAgo: 0, expected: models.RecencyActive},
		{name: "20 months ago", monthsAgo: 20, expected: models.RecencyActive},
		{name: "just past active boundary", monthsAgo: 25, expected: models.RecencyResurgence},
		{name: "30 months ago", monthsAgo: 30, expected: models.RecencyResurgence},
		{name: "40 months ago", monthsAgo: 40, expected: models.RecencyFade},
		{name: "50 months ago", monthsAgo: 50, expected: models.RecencyArchival},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := c.Classify(record("Maria Gonzalez", "7075551212", "", "", tt.monthsAgo, 1), testNow)
			assert.Equal(t, tt.expected, cls.RecencyBucket)
		})
	}
}

func TestEntityKind(t *testing.T) {
	c := New(DefaultPolicy())

	tests := []struct {
		name     string
		recName  string
		address  string
		phone    string
		email    string
		expected models.EntityKind
	}{
		{name: "plain person name", recName: "Alice Johnson", phone: "7075551212", expected: models.KindPersonLike},
		{name: "person name without contact", recName: "Alice Johnson", expected: models.KindUnknown},
		{name: "person name with email only", recName: "Alice Johnson", email: "alice@example.com", expected: models.KindPersonLike},
		{name: "mobile home park", recName: "Valley Village MHP", expected: models.KindPlaceLike},
		{name: "business suffix", recName: "Oak Creek Dairy LLC", expected: models.KindPlaceLike},
		{name: "winery", recName: "Silverado Winery", expected: models.KindPlaceLike},
		{name: "address-shaped name", recName: "1420 Broadway", expected: models.KindPlaceLike},
		{name: "feral colony", recName: "Feral colony behind Safeway", expected: models.KindColonyLike},
		{name: "barn cats in address", recName: "Jim", address: "barn cats, old dairy rd", expected: models.KindColonyLike},
		{name: "empty everything", recName: "", expected: models.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := c.Classify(record(tt.recName, tt.phone, tt.email, tt.address, 1, 1), testNow)
			assert.Equal(t, tt.expected, cls.EntityKind)
		})
	}
}

func TestQualityScore(t *testing.T) {
	c := New(DefaultPolicy())

	tests := []struct {
		name     string
		rec      *models.SourceRecord
		expected int
	}{
		{name: "name only", rec: record("Alice", "", "", "", 1, 1), expected: 0},
		{name: "phone only", rec: record("Alice", "7075551212", "", "", 1, 1), expected: 40},
		{name: "phone and email", rec: record("Alice", "7075551212", "alice@example.com", "", 1, 1), expected: 70},
		{name: "everything, seen twice", rec: record("Alice", "7075551212", "alice@example.com", "12 Main St", 1, 2), expected: 100},
		{name: "junk email does not count", rec: record("Alice", "", "none@none.com", "", 1, 1), expected: 0},
		{name: "short phone fragment does not count", rec: record("Alice", "555-1212", "", "", 1, 1), expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := c.Classify(tt.rec, testNow)
			assert.Equal(t, tt.expected, cls.QualityScore)
		})
	}
}

func TestPromotionGuardrails(t *testing.T) {
	c := New(DefaultPolicy())

	t.Run("active person with contact is promotable", func(t *testing.T) {
		cls := c.Classify(record("Maria Gonzalez", "7075551212", "", "", 20, 1), testNow)
		assert.Equal(t, models.RecencyActive, cls.RecencyBucket)
		assert.True(t, cls.PromotableToPerson)
		assert.False(t, cls.Demotable)
	})

	t.Run("archival low-quality record is demotable, not promotable", func(t *testing.T) {
		cls := c.Classify(record("M Gonzales", "", "", "", 50, 1), testNow)
		assert.Equal(t, models.RecencyArchival, cls.RecencyBucket)
		assert.Equal(t, models.KindUnknown, cls.EntityKind)
		assert.False(t, cls.PromotableToPerson)
		assert.True(t, cls.Demotable)
	})

	t.Run("archival but high quality is still promotable", func(t *testing.T) {
		cls := c.Classify(record("Maria Gonzalez", "7075551212", "maria@example.com", "", 50, 3), testNow)
		assert.True(t, cls.PromotableToPerson)
	})

	t.Run("fade with decent quality is protected from demotion", func(t *testing.T) {
		cls := c.Classify(record("Maria Gonzalez", "7075551212", "maria@example.com", "", 40, 1), testNow)
		assert.Equal(t, models.RecencyFade, cls.RecencyBucket)
		assert.False(t, cls.Demotable)
	})

	t.Run("fade with poor quality is demotable", func(t *testing.T) {
		cls := c.Classify(record("Maria Gonzalez", "", "", "12 Main St", 40, 1), testNow)
		assert.Equal(t, models.RecencyFade, cls.RecencyBucket)
		assert.True(t, cls.Demotable)
	})

	t.Run("place is never promotable to person", func(t *testing.T) {
		cls := c.Classify(record("Valley Village MHP", "7075551212", "office@vvmhp.com", "100 Valley Rd", 1, 5), testNow)
		assert.False(t, cls.PromotableToPerson)
		assert.True(t, cls.PromotableToPlace)
	})

	t.Run("address-shaped name with address is promotable to place", func(t *testing.T) {
		cls := c.Classify(record("1420 Broadway", "", "", "1420 Broadway, Oakland", 1, 1), testNow)
		assert.True(t, cls.PromotableToPlace)
	})
}

func TestPlaceKindFor(t *testing.T) {
	assert.Equal(t, models.PlaceKindColony, PlaceKindFor(models.KindColonyLike, "Feral colony"))
	assert.Equal(t, models.PlaceKindComplex, PlaceKindFor(models.KindPlaceLike, "Valley Village MHP"))
	assert.Equal(t, models.PlaceKindBusiness, PlaceKindFor(models.KindPlaceLike, "Oak Hill Winery"))
	assert.Equal(t, models.PlaceKindOther, PlaceKindFor(models.KindPersonLike, "Alice"))
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := New(DefaultPolicy())
	rec := record("Maria Gonzalez", "7075551212", "", "", 20, 1)

	first := c.Classify(rec, testNow)
	second := c.Classify(rec, testNow)
	assert.Equal(t, first, second)

	// same record, different as-of instant: only the recency side moves
	later := c.Classify(rec, testNow.AddDate(3, 0, 0))
	assert.Equal(t, models.RecencyArchival, later.RecencyBucket)
	assert.Equal(t, first.EntityKind, later.EntityKind)
	assert.Equal(t, first.QualityScore, later.QualityScore)
}
