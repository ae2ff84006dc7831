package merging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

func TestPlanFieldChangesFillMissing(t *testing.T) {
	target := map[string]string{
		models.FieldDisplayName:  "Maria Gonzalez",
		models.FieldPrimaryPhone: "",
		models.FieldPrimaryEmail: "maria@example.com",
	}
	source := map[string]string{
		models.FieldDisplayName:  "M Gonzales",
		models.FieldPrimaryPhone: "+17075551212",
		models.FieldPrimaryEmail: "mgonzales@other.com",
	}

	changes := planFieldChanges(target, source, false)

	// only the missing phone is filled; the conflicting name and email stay
	// with the target
	require.Len(t, changes, 1)
	assert.Equal(t, models.FieldPrimaryPhone, changes[0].Field)
	assert.Equal(t, "", changes[0].Before)
	assert.Equal(t, "+17075551212", changes[0].After)
	assert.Equal(t, ReasonFillMissing, changes[0].Reason)
}

func TestPlanFieldChangesPreferSource(t *testing.T) {
	target := map[string]string{
		models.FieldDisplayName:  "Maria Gonzalez",
		models.FieldPrimaryPhone: "",
		models.FieldPrimaryEmail: "maria@example.com",
	}
	source := map[string]string{
		models.FieldDisplayName:  "M Gonzales",
		models.FieldPrimaryPhone: "+17075551212",
		models.FieldPrimaryEmail: "mgonzales@other.com",
	}

	changes := planFieldChanges(target, source, true)

	require.Len(t, changes, 3)
	byField := map[string]models.FieldChange{}
	for _, c := range changes {
		byField[c.Field] = c
	}
	assert.Equal(t, ReasonPreferSource, byField[models.FieldDisplayName].Reason)
	assert.Equal(t, ReasonFillMissing, byField[models.FieldPrimaryPhone].Reason)
	assert.Equal(t, "mgonzales@other.com", byField[models.FieldPrimaryEmail].After)
}

func TestPlanFieldChangesNoOpWhenEqual(t *testing.T) {
	fields := map[string]string{
		models.FieldDisplayName:  "Maria Gonzalez",
		models.FieldPrimaryPhone: "+17075551212",
	}

	assert.Empty(t, planFieldChanges(fields, fields, false))
	assert.Empty(t, planFieldChanges(fields, fields, true))
}

func TestPlanFieldChangesEmptySourceNeverWins(t *testing.T) {
	target := map[string]string{models.FieldDisplayName: "Maria Gonzalez"}
	source := map[string]string{models.FieldDisplayName: ""}

	// prefer-source must not blank out target values
	assert.Empty(t, planFieldChanges(target, source, true))
}

func TestPlanFieldChangesDeterministicOrder(t *testing.T) {
	target := map[string]string{
		models.FieldDisplayName:  "",
		models.FieldPrimaryPhone: "",
		models.FieldPrimaryEmail: "",
	}
	source := map[string]string{
		models.FieldDisplayName:  "A",
		models.FieldPrimaryPhone: "B",
		models.FieldPrimaryEmail: "C",
	}

	first := planFieldChanges(target, source, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, planFieldChanges(target, source, false))
	}
	require.Len(t, first, 3)
	assert.Equal(t, models.FieldDisplayName, first[0].Field)
	assert.Equal(t, models.FieldPrimaryPhone, first[1].Field)
	assert.Equal(t, models.FieldPrimaryEmail, first[2].Field)
}

func TestAliasAdditionsForPerson(t *testing.T) {
	phone := "+17075551212"
	source := &models.Person{
		DisplayName:  "M Gonzales",
		PrimaryPhone: &phone,
	}

	additions := aliasAdditionsForPerson(source)

	require.Len(t, additions, 2)
	assert.Equal(t, models.AliasKindName, additions[0].Kind)
	assert.Equal(t, "M Gonzales", additions[0].Value)
	assert.Equal(t, "m gonzales", additions[0].NormalizedValue)
	assert.Equal(t, models.AliasKindPhone, additions[1].Kind)
}

func TestAliasAdditionsForRecord(t *testing.T) {
	rec := &models.SourceRecord{
		SourceSystem:   "clinic",
		SourceRecordID: "42",
		RawName:        models.StringPtr("Gonzalez, Maria"),
		RawPhone:       models.StringPtr("(707) 555-1212"),
		RawEmail:       models.StringPtr("none"),
	}

	additions := aliasAdditionsForRecord(rec)

	// junk email is dropped by normalization; name, phone, and the external
	// id remain
	require.Len(t, additions, 3)
	assert.Equal(t, models.AliasKindName, additions[0].Kind)
	assert.Equal(t, "gonzalez maria", additions[0].NormalizedValue)
	assert.Equal(t, models.AliasKindPhone, additions[1].Kind)
	assert.Equal(t, "+17075551212", additions[1].NormalizedValue)
	assert.Equal(t, models.AliasKindExternalID, additions[2].Kind)
	assert.Equal(t, "clinic:42", additions[2].Value)
}

func TestAliasAdditionsForRecordWithAddress(t *testing.T) {
	rec := &models.SourceRecord{
		SourceSystem:   "clinic",
		SourceRecordID: "42",
		RawName:        models.StringPtr("Maria Gonzalez"),
		RawAddress:     models.StringPtr("1420 N. Broadway Street"),
	}

	additions := aliasAdditionsForRecord(rec)

	require.Len(t, additions, 3)
	assert.Equal(t, models.AliasKindAddress, additions[1].Kind)
	assert.Equal(t, "1420 N. Broadway Street", additions[1].Value)
	assert.Equal(t, normalizers.NormalizeAddress("1420 N. Broadway Street"), additions[1].NormalizedValue)
}

func TestRecordFields(t *testing.T) {
	rec := &models.SourceRecord{
		RawName:    models.StringPtr("Valley Village MHP"),
		RawPhone:   models.StringPtr("707.555.1212"),
		RawAddress: models.StringPtr("100 Valley Road"),
	}

	personFields := recordFields(rec, models.EntityTypePerson)
	assert.Equal(t, "+17075551212", personFields[models.FieldPrimaryPhone])
	assert.Equal(t, "Valley Village MHP", personFields[models.FieldDisplayName])

	placeFields := recordFields(rec, models.EntityTypePlace)
	assert.Equal(t, "100 Valley Road", placeFields[models.FieldAddress])
	_, hasPhone := placeFields[models.FieldPrimaryPhone]
	assert.False(t, hasPhone)
}
