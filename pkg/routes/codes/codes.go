package codes

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/codes"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Register registers classification code routes
func Register(g *echo.Group) {
	g.GET("", ListCodes)
	g.GET("/:kind", ListCodesByKind)
}

// ListCodes returns every active code grouped by kind
func ListCodes(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "codes.ListCodes")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*codes.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	grouped, err := repo.ListAll(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, grouped)
}

// ListCodesByKind returns the active codes for one kind in display order
func ListCodesByKind(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "codes.ListCodesByKind")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*codes.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	list, err := repo.ListByKind(ctx, models.CodeKind(c.Param("kind")))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, list)
}
