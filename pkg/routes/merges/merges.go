package merges

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/mergeop"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// Register registers merge operation routes
func Register(g *echo.Group) {
	g.GET("", ListMergeOperations)
	g.POST("/preview", PreviewMerge)
	g.POST("/execute", ExecuteMerge)
	g.GET("/:id", GetMergeOperation)
	g.GET("/:id/effects", GetMergeEffects)
	g.POST("/:id/revert", RevertMerge)
}

// ListMergeOperations lists operations touching one entity
func ListMergeOperations(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merges.ListMergeOperations")
	defer span.End()

	entityID := c.QueryParam("entity_id")
	if entityID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "entity_id query parameter is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx, repo, err := ectoinject.GetContext[*mergeop.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	ops, err := repo.ListByEntity(ctx, entityID, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ops)
}

// PreviewMerge computes what a merge would do without applying anything
func PreviewMerge(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merges.PreviewMerge")
	defer span.End()

	req, err := utils.BindRequest[models.PreviewMergeRequest](c)
	if err != nil {
		return err
	}

	ctx, merger, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	userID, err := utils.RequireUserID(ctx)
	if err != nil {
		return err
	}

	op, err := merger.Preview(ctx, req, userID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, op)
}

// ExecuteMerge applies an entity merge
func ExecuteMerge(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merges.ExecuteMerge")
	defer span.End()

	req, err := utils.BindRequest[models.ExecuteMergeRequest](c)
	if err != nil {
		return err
	}

	ctx, merger, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	userID, err := utils.RequireUserID(ctx)
	if err != nil {
		return err
	}

	op, err := merger.Execute(ctx, req, userID)
	if err != nil {
		return err
	}

	ctx, emitter, _ := ectoinject.GetContext[*events.Emitter](ctx)
	emitter.MergeExecuted(ctx, op)

	return c.JSON(http.StatusOK, op)
}

// GetMergeOperation gets one operation
func GetMergeOperation(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merges.GetMergeOperation")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*mergeop.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	op, err := repo.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, op)
}

// GetMergeEffects returns the operation's effect journal in applied order
func GetMergeEffects(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merges.GetMergeEffects")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*mergeop.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	effects, err := repo.ListEffects(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, effects)
}

// RevertMerge undoes an executed merge by replaying its journal backwards
func RevertMerge(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "merges.RevertMerge")
	defer span.End()

	ctx, merger, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	userID, err := utils.RequireUserID(ctx)
	if err != nil {
		return err
	}

	op, err := merger.Revert(ctx, c.Param("id"), userID)
	if err != nil {
		return err
	}

	ctx, emitter, _ := ectoinject.GetContext[*events.Emitter](ctx)
	emitter.MergeReverted(ctx, op)

	return c.JSON(http.StatusOK, op)
}
