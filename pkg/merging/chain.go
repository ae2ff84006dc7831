package merging

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// maxChainDepth bounds superseded_by pointer walks. Chains this long only
// happen when the data is corrupt, and an unbounded walk on a cycle would
// spin forever.
const maxChainDepth = 50

// ResolveCanonical follows superseded_by pointers from the given entity to
// its current canonical head. An entity that was never merged resolves to
// itself.
func (e *Engine) ResolveCanonical(ctx context.Context, entityType models.EntityType, id string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.ResolveCanonical")
	defer span.End()

	current := id
	for depth := 0; depth < maxChainDepth; depth++ {
		next, err := e.supersededBy(ctx, entityType, current)
		if err != nil {
			return "", err
		}
		if next == nil {
			return current, nil
		}
		current = *next
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": entityType,
		"entity_id":   id,
	}).Error("Supersession chain exceeded depth limit")
	return "", httperror.NewHTTPError(http.StatusInternalServerError, "supersession chain is too deep or cyclic")
}

func (e *Engine) supersededBy(ctx context.Context, entityType models.EntityType, id string) (*string, error) {
	switch entityType {
	case models.EntityTypePlace:
		p, err := e.placeRepo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return p.SupersededBy, nil
	default:
		p, err := e.personRepo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return p.SupersededBy, nil
	}
}
