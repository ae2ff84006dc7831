package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func testConfig() EngineConfig {
	return EngineConfig{
		Tier0ConfidenceEmail: 0.98,
		Tier0ConfidencePhone: 0.95,
		Tier1Confidence:      0.82,
		Tier2Confidence:      0.55,
		Tier3Confidence:      0.40,
		Tier0NameSimilarity:  0.80,
		Tier2NameSimilarity:  0.85,
		Tier3NameSimilarity:  0.70,
		BatchSize:            200,
	}
}

func testEngine() *Engine {
	return &Engine{scorer: NewScorer(), config: testConfig()}
}

func testRecord() *models.SourceRecord {
	return &models.SourceRecord{
		SourceSystem:   "clinic",
		SourceRecordID: "42",
		RawName:        models.StringPtr("Alice Johnson"),
	}
}

func testPerson(name string) *models.Person {
	return &models.Person{ID: "p1", DisplayName: name}
}

func TestTierLadder(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name         string
		emailMatched bool
		phoneMatched bool
		nameSim      float64
		expectedTier models.MatchTier
		expectedConf float64
	}{
		{name: "email plus name corroboration", emailMatched: true, nameSim: 0.95, expectedTier: models.TierExactContact, expectedConf: 0.98},
		{name: "phone plus name corroboration", phoneMatched: true, nameSim: 0.85, expectedTier: models.TierExactContact, expectedConf: 0.95},
		{name: "email without name corroboration", emailMatched: true, nameSim: 0.5, expectedTier: models.TierContactOnly, expectedConf: 0.82},
		{name: "phone alone", phoneMatched: true, nameSim: 0, expectedTier: models.TierContactOnly, expectedConf: 0.82},
		{name: "strong name only", nameSim: 0.90, expectedTier: models.TierStrongName, expectedConf: 0.55},
		{name: "weak name only", nameSim: 0.75, expectedTier: models.TierWeakName, expectedConf: 0.40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.classify(testRecord(), testPerson("Alice Johnson"), tt.emailMatched, tt.phoneMatched, tt.nameSim, 0, "a@example.com", "+17075551212")
			require.NotNil(t, c)
			assert.Equal(t, tt.expectedTier, c.Tier)
			assert.Equal(t, tt.expectedConf, c.Confidence)
			assert.Equal(t, models.MatchCandidateStatusOpen, c.Status)
		})
	}
}

func TestTierLadderRejectsBelowFloor(t *testing.T) {
	e := testEngine()

	c := e.classify(testRecord(), testPerson("Zelda Fitzgerald"), false, false, 0.42, 0, "", "")
	assert.Nil(t, c)
}

func TestTierConfidenceIsMonotonic(t *testing.T) {
	e := testEngine()

	tier0 := e.classify(testRecord(), testPerson("Alice Johnson"), true, false, 1.0, 0, "a@example.com", "")
	tier1 := e.classify(testRecord(), testPerson("Alice Johnson"), true, false, 0.0, 0, "a@example.com", "")
	tier2 := e.classify(testRecord(), testPerson("Alice Johnson"), false, false, 0.90, 0, "", "")
	tier3 := e.classify(testRecord(), testPerson("Alice Johnson"), false, false, 0.72, 0, "", "")

	require.NotNil(t, tier0)
	require.NotNil(t, tier1)
	require.NotNil(t, tier2)
	require.NotNil(t, tier3)
	assert.Greater(t, tier0.Confidence, tier1.Confidence)
	assert.Greater(t, tier1.Confidence, tier2.Confidence)
	assert.Greater(t, tier2.Confidence, tier3.Confidence)
}

func TestTier2AddressCorroboration(t *testing.T) {
	e := testEngine()

	plain := e.classify(testRecord(), testPerson("Alice Johnson"), false, false, 0.90, 0, "", "")
	corroborated := e.classify(testRecord(), testPerson("Alice Johnson"), false, false, 0.90, 0.92, "", "")
	nearMiss := e.classify(testRecord(), testPerson("Alice Johnson"), false, false, 0.90, 0.60, "", "")

	require.NotNil(t, plain)
	require.NotNil(t, corroborated)
	require.NotNil(t, nearMiss)

	// corroboration bumps confidence but stays within the tier-2 band
	assert.Equal(t, models.TierStrongName, corroborated.Tier)
	assert.Greater(t, corroborated.Confidence, plain.Confidence)
	assert.Less(t, corroborated.Confidence, e.config.Tier1Confidence)
	assert.Equal(t, plain.Confidence, nearMiss.Confidence)

	ev, err := corroborated.ParsedEvidence()
	require.NoError(t, err)
	assert.True(t, ev.AddressMatched)
	assert.Equal(t, 0.92, ev.AddressSimilarity)

	ev, err = nearMiss.ParsedEvidence()
	require.NoError(t, err)
	assert.False(t, ev.AddressMatched)
}

func TestEvidencePayload(t *testing.T) {
	e := testEngine()

	c := e.classify(testRecord(), testPerson("Alice Johnson"), true, false, 1.0, 0, "alice@example.com", "")
	require.NotNil(t, c)

	ev, err := c.ParsedEvidence()
	require.NoError(t, err)
	assert.True(t, ev.EmailMatched)
	assert.False(t, ev.PhoneMatched)
	assert.True(t, ev.NameExact)
	assert.Equal(t, "alice@example.com", ev.NormalizedEmail)
	assert.Equal(t, models.TierExactContact, ev.Tier)
}

func TestBatchResultTally(t *testing.T) {
	result := &BatchResult{ByTier: map[int]int{}}
	result.tally([]*models.MatchCandidate{
		{ID: "mc-1", Tier: models.TierExactContact},
		{ID: "mc-2", Tier: models.TierContactOnly},
		// pair already resolved by review: upsert returned no row and
		// cleared the id, so it must not reach auto-accept
		{ID: "", Tier: models.TierExactContact},
	})

	assert.Equal(t, 2, result.CandidatesFound)
	assert.Equal(t, map[int]int{0: 1, 1: 1}, result.ByTier)
	assert.Equal(t, []string{"mc-1"}, result.Tier0Candidates)
}

func TestNameSimilarity(t *testing.T) {
	s := NewScorer()

	t.Run("exact match short-circuits to 1.0", func(t *testing.T) {
		assert.Equal(t, 1.0, s.NameSimilarity("alice johnson", "alice johnson"))
	})

	t.Run("token order does not matter", func(t *testing.T) {
		assert.Equal(t, 1.0, s.NameSimilarity("johnson alice", "alice johnson"))
	})

	t.Run("nickname variant clears the tier 0 corroboration floor", func(t *testing.T) {
		// Alicia Johnson vs Alice Johnson: same email, slightly different
		// name spelling still counts as corroboration
		sim := s.NameSimilarity("alicia johnson", "alice johnson")
		assert.GreaterOrEqual(t, sim, 0.80)
	})

	t.Run("unrelated names score low", func(t *testing.T) {
		sim := s.NameSimilarity("alice johnson", "bob martinez")
		assert.Less(t, sim, 0.5)
	})

	t.Run("tokens that sound alike hold the weak-name floor", func(t *testing.T) {
		// truncated intake spellings: the string metrics collapse on "ng"
		// vs "nick" but both encode to N200
		assert.GreaterOrEqual(t, s.NameSimilarity("ng", "nick"), phoneticFloor)
		assert.Less(t, s.NameSimilarity("ng", "mick"), phoneticFloor)
	})

	t.Run("empty input scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, s.NameSimilarity("", "alice johnson"))
	})
}

func TestTrigram(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.Trigram("maria", "maria"))
	assert.Greater(t, s.Trigram("maria gonzalez", "maria gonzales"), 0.6)
	assert.Less(t, s.Trigram("maria", "xavier"), 0.2)
	assert.Equal(t, 0.0, s.Trigram("", "maria"))
}

func TestSoundex(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, s.Soundex("gonzalez"), s.Soundex("gonzales"))
	assert.Equal(t, 1.0, s.SoundexMatch("smith", "smyth"))
	assert.Equal(t, 0.0, s.SoundexMatch("smith", "jones"))
}

func TestJaroWinkler(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.JaroWinkler("martha", "martha"))
	assert.InDelta(t, 0.961, s.JaroWinkler("martha", "marhta"), 0.01)
	assert.Equal(t, 0.0, s.JaroWinkler("abc", "xyz"))
}

func TestLevenshtein(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 0, s.LevenshteinDistance("kitten", "kitten"))
	assert.Equal(t, 3, s.LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 1.0, s.Levenshtein("", ""))
}
