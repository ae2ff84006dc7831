package utils

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	appcontext "github.com/Ramsey-B/fern/pkg/context"
)

// RequireUserID returns the reviewer identity the auth proxy put on the
// request. Mutating review and merge calls are rejected without one so the
// audit trail always names a person.
func RequireUserID(ctx context.Context) (string, error) {
	if userID := appcontext.GetUserID(ctx); userID != "" {
		return userID, nil
	}
	return "", httperror.NewHTTPError(http.StatusBadRequest, "X-User-ID header is required")
}
