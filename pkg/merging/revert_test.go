package merging

import (
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func fieldEffect(t *testing.T, field, before, after string) *models.MergeEffect {
	t.Helper()
	b, err := models.MarshalJSONText(before)
	require.NoError(t, err)
	a, err := models.MarshalJSONText(after)
	require.NoError(t, err)
	return &models.MergeEffect{
		Kind:       models.EffectFieldUpdate,
		EntityType: models.EntityTypePerson,
		EntityID:   "p1",
		Field:      &field,
		Before:     b,
		After:      a,
	}
}

func TestRestoreValue(t *testing.T) {
	t.Run("restores the pre-merge value when nothing drifted", func(t *testing.T) {
		effect := fieldEffect(t, models.FieldPrimaryPhone, "", "+17075551212")
		before, err := restoreValue(effect, "+17075551212")
		require.NoError(t, err)
		assert.Equal(t, "", before)
	})

	t.Run("conflicts when the field changed after the merge", func(t *testing.T) {
		effect := fieldEffect(t, models.FieldPrimaryPhone, "", "+17075551212")
		_, err := restoreValue(effect, "+17075559999")
		require.Error(t, err)
		assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
	})

	t.Run("corrupt payload is an internal error, not a conflict", func(t *testing.T) {
		effect := fieldEffect(t, models.FieldPrimaryPhone, "", "+17075551212")
		effect.After = models.JSONText(`{not json`)
		_, err := restoreValue(effect, "+17075551212")
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
	})
}

// Replaying a fill-missing plan's effects in reverse restores the entity's
// original fields exactly.
func TestFieldChangesAreReversible(t *testing.T) {
	original := map[string]string{
		models.FieldDisplayName:  "Maria Gonzalez",
		models.FieldPrimaryPhone: "",
		models.FieldPrimaryEmail: "",
	}
	source := map[string]string{
		models.FieldDisplayName:  "M Gonzales",
		models.FieldPrimaryPhone: "+17075551212",
		models.FieldPrimaryEmail: "maria@example.com",
	}

	changes := planFieldChanges(original, source, false)
	require.NotEmpty(t, changes)

	// apply the plan the way the engine journals it
	current := map[string]string{}
	for k, v := range original {
		current[k] = v
	}
	effects := make([]*models.MergeEffect, 0, len(changes))
	for _, change := range changes {
		current[change.Field] = change.After
		effects = append(effects, fieldEffect(t, change.Field, change.Before, change.After))
	}
	assert.NotEqual(t, original, current)

	// undo newest first
	for i := len(effects) - 1; i >= 0; i-- {
		effect := effects[i]
		before, err := restoreValue(effect, current[*effect.Field])
		require.NoError(t, err)
		current[*effect.Field] = before
	}
	assert.Equal(t, original, current)
}
