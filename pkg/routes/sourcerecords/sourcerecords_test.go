package sourcerecords

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/classify"
	"github.com/Ramsey-B/fern/pkg/models"
)

func TestMarkHistoricalBlocked(t *testing.T) {
	c := classify.New(classify.DefaultPolicy())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	record := func(phone, email string, monthsAgo int) *models.SourceRecord {
		return &models.SourceRecord{
			ID:               "sr-test",
			SourceSystem:     "clinic",
			SourceRecordID:   "42",
			RawName:          models.StringPtr("Maria Gonzalez"),
			RawPhone:         models.StringPtr(phone),
			RawEmail:         models.StringPtr(email),
			LastSeenAt:       now.AddDate(0, -monthsAgo, -1),
			ObservationCount: 1,
		}
	}

	t.Run("active record is blocked without force", func(t *testing.T) {
		cls := c.Classify(record("7075551212", "", 10), now)
		assert.True(t, markHistoricalBlocked(false, cls))
	})

	t.Run("fade record with decent quality is blocked without force", func(t *testing.T) {
		cls := c.Classify(record("7075551212", "maria@example.com", 40), now)
		assert.Equal(t, models.RecencyFade, cls.RecencyBucket)
		assert.False(t, cls.Demotable)
		assert.True(t, markHistoricalBlocked(false, cls))
	})

	t.Run("force overrides the guard", func(t *testing.T) {
		cls := c.Classify(record("7075551212", "maria@example.com", 40), now)
		assert.False(t, markHistoricalBlocked(true, cls))
	})

	t.Run("fade record with poor quality passes", func(t *testing.T) {
		cls := c.Classify(record("", "", 40), now)
		assert.Equal(t, models.RecencyFade, cls.RecencyBucket)
		assert.False(t, markHistoricalBlocked(false, cls))
	})

	t.Run("archival record passes", func(t *testing.T) {
		cls := c.Classify(record("", "", 50), now)
		assert.False(t, markHistoricalBlocked(false, cls))
	})
}
