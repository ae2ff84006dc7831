package matchcandidate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestAssignUpsertedIDs(t *testing.T) {
	fresh := &models.MatchCandidate{
		ID: "generated-uuid", SourceSystem: "clinic", SourceRecordID: "42", CandidateEntityID: "p1",
	}
	regenerated := &models.MatchCandidate{
		ID: "another-uuid", SourceSystem: "clinic", SourceRecordID: "42", CandidateEntityID: "p2",
	}
	alreadyResolved := &models.MatchCandidate{
		ID: "third-uuid", SourceSystem: "clinic", SourceRecordID: "43", CandidateEntityID: "p1",
	}

	assignUpsertedIDs([]*models.MatchCandidate{fresh, regenerated, alreadyResolved}, []upsertedRow{
		{ID: "generated-uuid", SourceSystem: "clinic", SourceRecordID: "42", CandidateEntityID: "p1"},
		// conflict kept the original row's id, not the regenerated uuid
		{ID: "existing-row-id", SourceSystem: "clinic", SourceRecordID: "42", CandidateEntityID: "p2"},
		// no row for clinic/43/p1: its pair is already resolved
	})

	assert.Equal(t, "generated-uuid", fresh.ID)
	assert.Equal(t, "existing-row-id", regenerated.ID)
	assert.Equal(t, "", alreadyResolved.ID)
}
