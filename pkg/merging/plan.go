package merging

import (
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Field change reasons recorded on previews and effect rows.
const (
	ReasonFillMissing  = "fill_missing"
	ReasonPreferSource = "prefer_source"
	ReasonPromote      = "promote"
)

// planFieldChanges computes which target fields a merge would set. The
// default policy is fill-missing: a source value lands only where the target
// has none, and conflicting source values survive as aliases instead of
// overwriting. preferSource inverts the conflict arm for explicit operator
// merges.
func planFieldChanges(target, source map[string]string, preferSource bool) []models.FieldChange {
	changes := []models.FieldChange{}
	for _, field := range orderedFields(target) {
		targetValue := target[field]
		sourceValue := source[field]
		if sourceValue == "" || sourceValue == targetValue {
			continue
		}
		if targetValue == "" {
			changes = append(changes, models.FieldChange{
				Field:  field,
				Before: targetValue,
				After:  sourceValue,
				Reason: ReasonFillMissing,
			})
			continue
		}
		if preferSource {
			changes = append(changes, models.FieldChange{
				Field:  field,
				Before: targetValue,
				After:  sourceValue,
				Reason: ReasonPreferSource,
			})
		}
	}
	return changes
}

// orderedFields returns field names in a stable order so previews and effect
// sequences are deterministic.
func orderedFields(values map[string]string) []string {
	known := []string{
		models.FieldDisplayName,
		models.FieldPrimaryPhone,
		models.FieldPrimaryEmail,
		models.FieldAddress,
		models.FieldPlaceKind,
	}
	out := make([]string, 0, len(values))
	for _, f := range known {
		if _, ok := values[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// aliasAdditionsForPerson lists the alias rows absorbing one person into
// another would append. Every non-empty source value is preserved whether or
// not it won a field.
func aliasAdditionsForPerson(source *models.Person) []models.AliasAddition {
	additions := []models.AliasAddition{}
	if source.DisplayName != "" {
		additions = append(additions, models.AliasAddition{
			Kind:            models.AliasKindName,
			Value:           source.DisplayName,
			NormalizedValue: normalizers.NormalizeName(source.DisplayName),
		})
	}
	if v := derefStr(source.PrimaryPhone); v != "" {
		additions = append(additions, models.AliasAddition{
			Kind:            models.AliasKindPhone,
			Value:           v,
			NormalizedValue: normalizers.NormalizePhone(v),
		})
	}
	if v := derefStr(source.PrimaryEmail); v != "" {
		additions = append(additions, models.AliasAddition{
			Kind:            models.AliasKindEmail,
			Value:           v,
			NormalizedValue: normalizers.NormalizeEmail(v),
		})
	}
	return additions
}

// aliasAdditionsForPlace lists alias rows for absorbing one place into
// another.
func aliasAdditionsForPlace(source *models.Place) []models.AliasAddition {
	additions := []models.AliasAddition{}
	if source.DisplayName != "" {
		additions = append(additions, models.AliasAddition{
			Kind:            models.AliasKindName,
			Value:           source.DisplayName,
			NormalizedValue: normalizers.NormalizeName(source.DisplayName),
		})
	}
	return additions
}

// aliasAdditionsForRecord lists alias rows linking a source record would
// append: the raw observed values, normalized.
func aliasAdditionsForRecord(rec *models.SourceRecord) []models.AliasAddition {
	additions := []models.AliasAddition{}
	if v := rec.Name(); v != "" {
		if normalized := normalizers.NormalizeName(v); normalized != "" {
			additions = append(additions, models.AliasAddition{
				Kind:            models.AliasKindName,
				Value:           v,
				NormalizedValue: normalized,
			})
		}
	}
	if v := rec.Phone(); v != "" {
		if normalized := normalizers.NormalizePhone(v); normalized != "" {
			additions = append(additions, models.AliasAddition{
				Kind:            models.AliasKindPhone,
				Value:           v,
				NormalizedValue: normalized,
			})
		}
	}
	if v := rec.Email(); v != "" {
		if normalized := normalizers.NormalizeEmail(v); normalized != "" {
			additions = append(additions, models.AliasAddition{
				Kind:            models.AliasKindEmail,
				Value:           v,
				NormalizedValue: normalized,
			})
		}
	}
	if v := rec.Address(); v != "" {
		if normalized := normalizers.NormalizeAddress(v); normalized != "" {
			additions = append(additions, models.AliasAddition{
				Kind:            models.AliasKindAddress,
				Value:           v,
				NormalizedValue: normalized,
			})
		}
	}
	additions = append(additions, models.AliasAddition{
		Kind:            models.AliasKindExternalID,
		Value:           rec.Key().String(),
		NormalizedValue: rec.Key().String(),
	})
	return additions
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
