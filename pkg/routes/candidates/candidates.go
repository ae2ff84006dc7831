package candidates

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/matchcandidate"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/review"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// Register registers match candidate routes
func Register(g *echo.Group) {
	g.POST("/generate", GenerateCandidates)
	g.GET("", ListCandidates)
	g.GET("/summary", GetSummary)
	g.GET("/:id", GetCandidate)
	g.POST("/:id/accept", AcceptCandidate)
	g.POST("/:id/reject", RejectCandidate)
}

// GenerateCandidates triggers a generation pass by hand. The pass runs under
// the same job lock as the periodic one, so a busy lock is a 409.
func GenerateCandidates(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "candidates.GenerateCandidates")
	defer span.End()

	req, err := utils.BindRequest[models.GenerateCandidatesRequest](c)
	if err != nil {
		return err
	}

	ctx, generator, err := ectoinject.GetContext[*processor.Generator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := generator.RunPass(ctx, processor.PassOptions{
		SourceSystem:  req.SourceSystem,
		Limit:         req.Limit,
		MinConfidence: req.MinConfidence,
	}); err != nil {
		if errors.Is(err, redis.ErrJobRunning) {
			return httperror.NewHTTPError(http.StatusConflict, "a generation pass is already running")
		}
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
}

// ListCandidates lists candidates in review order
func ListCandidates(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "candidates.ListCandidates")
	defer span.End()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	filter := matchcandidate.ListFilter{
		Status:       c.QueryParam("status"),
		SourceSystem: c.QueryParam("source_system"),
		EntityID:     c.QueryParam("entity_id"),
		Limit:        limit,
		Offset:       offset,
	}
	if tierParam := c.QueryParam("tier"); tierParam != "" {
		n, err := strconv.Atoi(tierParam)
		if err != nil || n < 0 || n > 3 {
			return httperror.NewHTTPError(http.StatusBadRequest, "tier must be 0-3")
		}
		tier := models.MatchTier(n)
		filter.Tier = &tier
	}

	ctx, queue, err := ectoinject.GetContext[*review.Queue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	candidates, err := queue.List(ctx, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, candidates)
}

// GetSummary returns queue counts by status
func GetSummary(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "candidates.GetSummary")
	defer span.End()

	ctx, queue, err := ectoinject.GetContext[*review.Queue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	summary, err := queue.Summary(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, summary)
}

// GetCandidate gets a candidate by id
func GetCandidate(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "candidates.GetCandidate")
	defer span.End()

	ctx, queue, err := ectoinject.GetContext[*review.Queue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	candidate, err := queue.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, candidate)
}

// AcceptCandidate links the candidate's record to its proposed entity
func AcceptCandidate(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "candidates.AcceptCandidate")
	defer span.End()

	ctx, queue, err := ectoinject.GetContext[*review.Queue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	userID, err := utils.RequireUserID(ctx)
	if err != nil {
		return err
	}

	op, err := queue.Accept(ctx, c.Param("id"), userID)
	if err != nil {
		return err
	}

	ctx, emitter, _ := ectoinject.GetContext[*events.Emitter](ctx)
	emitter.MergeExecuted(ctx, op)

	return c.JSON(http.StatusOK, op)
}

// RejectCandidate closes a candidate without linking
func RejectCandidate(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "candidates.RejectCandidate")
	defer span.End()

	req, err := utils.BindRequest[models.RejectCandidateRequest](c)
	if err != nil {
		return err
	}

	ctx, queue, err := ectoinject.GetContext[*review.Queue](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	userID, err := utils.RequireUserID(ctx)
	if err != nil {
		return err
	}

	if err := queue.Reject(ctx, c.Param("id"), userID, req); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "rejected"})
}
