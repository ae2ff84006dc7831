package sourcerecords

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/historical"
	"github.com/Ramsey-B/fern/internal/repositories/matchcandidate"
	"github.com/Ramsey-B/fern/internal/repositories/sourcerecord"
	"github.com/Ramsey-B/fern/pkg/classify"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// Register registers source record routes
func Register(g *echo.Group) {
	g.GET("", ListSourceRecords)
	g.POST("/intake", IngestRow)
	g.GET("/historical", ListHistoricalMarkers)
	g.GET("/:system/:id", GetSourceRecord)
	g.GET("/:system/:id/classification", GetClassification)
	g.GET("/:system/:id/candidates", ListRecordCandidates)
	g.POST("/:system/:id/promote", PromoteSourceRecord)
	g.POST("/:system/:id/historical", MarkHistorical)
	g.DELETE("/:system/:id/historical", UnmarkHistorical)
}

// ListSourceRecords lists ingested rows with optional filters
func ListSourceRecords(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sourcerecords.ListSourceRecords")
	defer span.End()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	ctx, repo, err := ectoinject.GetContext[*sourcerecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	records, err := repo.List(ctx, sourcerecord.ListFilter{
		SourceSystem: c.QueryParam("source_system"),
		Search:       c.QueryParam("search"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, records)
}

// IngestRow lands one normalized row without going through Kafka. Backfill
// tooling and manual corrections use this.
func IngestRow(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sourcerecords.IngestRow")
	defer span.End()

	req, err := utils.BindRequest[models.IngestedRow](c)
	if err != nil {
		return err
	}
	if req.SourceSystem == "" || req.SourceRecordID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "source_system and source_record_id are required")
	}
	if req.ObservedAt.IsZero() {
		req.ObservedAt = time.Now().UTC()
	}

	ctx, intake, err := ectoinject.GetContext[*processor.Intake](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	rec, err := intake.Ingest(ctx, &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, rec)
}

// GetSourceRecord gets a source record by its natural key
func GetSourceRecord(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sourcerecords.GetSourceRecord")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*sourcerecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	rec, err := repo.GetByKey(ctx, c.Param("system"), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, rec)
}

// GetClassification computes the record's classification on demand. Nothing
// is persisted; the response is a read-time annotation.
func GetClassification(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sourcerecords.GetClassification")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*sourcerecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	rec, err := repo.GetByKey(ctx, c.Param("system"), c.Param("id"))
	if err != nil {
		return err
	}

	ctx, classifier, err := ectoinject.GetContext[*classify.Classifier](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	asOf := time.Now().UTC()
	if raw := c.QueryParam("as_of"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "as_of must be RFC 3339")
		}
		asOf = parsed
	}

	return c.JSON(http.StatusOK, classifier.Classify(rec, asOf))
}

// ListRecordCandidates lists the open match candidates for one source record,
// best tier first.
func ListRecordCandidates(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sourcerecords.ListRecordCandidates")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*matchcandidate.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	candidates, err := repo.ListOpenBySource(ctx, c.Param("system"), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, candidates)
}

// PromoteSourceRecord creates a new canonical entity from the record and
// links it. Classification guardrails apply unless force is set.
func PromoteSourceRecord(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sourcerecords.PromoteSourceRecord")
	defer span.End()

	req, err := utils.BindRequest[models.PromoteRequest](c)
	if err != nil {
		return err
	}

	ctx, repo, err := ectoinject.GetContext[*sourcerecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	rec, err := repo.GetByKey(ctx, c.Param("system"), c.Param("id"))
	if err != nil {
		return err
	}

	ctx, classifier, err := ectoinject.GetContext[*classify.Classifier](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	cls := classifier.Classify(rec, time.Now().UTC())

	ctx, merger, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	userID, err := utils.RequireUserID(ctx)
	if err != nil {
		return err
	}

	op, entityID, err := merger.Promote(ctx, rec, cls, req, userID)
	if err != nil {
		return err
	}

	ctx, emitter, _ := ectoinject.GetContext[*events.Emitter](ctx)
	emitter.EntityCreated(ctx, req.EntityType, entityID)

	return c.JSON(http.StatusCreated, map[string]any{
		"operation": op,
		"entity_id": entityID,
	})
}

// MarkHistorical flags the record as never auto-linkable. Marking a record
// with recent activity needs force; the classification at marking time is
// snapshot onto the marker for later review.
func MarkHistorical(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sourcerecords.MarkHistorical")
	defer span.End()

	req, err := utils.BindRequest[models.MarkHistoricalRequest](c)
	if err != nil {
		return err
	}

	ctx, repo, err := ectoinject.GetContext[*sourcerecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	rec, err := repo.GetByKey(ctx, c.Param("system"), c.Param("id"))
	if err != nil {
		return err
	}

	ctx, classifier, err := ectoinject.GetContext[*classify.Classifier](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	cls := classifier.Classify(rec, time.Now().UTC())

	if markHistoricalBlocked(req.Force, cls) {
		metrics.GuardrailBlocksTotal.WithLabelValues("mark_historical").Inc()
		return httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "record %s is not demotable (bucket=%s, quality=%d); pass force to mark it historical anyway", rec.Key().String(), cls.RecencyBucket, cls.QualityScore)
	}

	ctx, markers, err := ectoinject.GetContext[*historical.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	userID, err := utils.RequireUserID(ctx)
	if err != nil {
		return err
	}
	marker, err := markers.Create(ctx, &models.HistoricalMarker{
		SourceSystem:    rec.SourceSystem,
		SourceRecordID:  rec.SourceRecordID,
		Reason:          req.Reason,
		Forced:          req.Force,
		BucketAtMarking: cls.RecencyBucket,
		KindAtMarking:   cls.EntityKind,
		CreatedBy:       models.StringPtr(userID),
	})
	if err != nil {
		return err
	}

	ctx, emitter, _ := ectoinject.GetContext[*events.Emitter](ctx)
	emitter.RecordHistorical(ctx, rec.Key())

	return c.JSON(http.StatusCreated, marker)
}

// markHistoricalBlocked is the guardrail for MarkHistorical: the classifier's
// demotion guard decides, and force overrides it.
func markHistoricalBlocked(force bool, cls models.Classification) bool {
	return !force && !cls.Demotable
}

// UnmarkHistorical removes the marker. The record rejoins candidate
// generation on the next pass.
func UnmarkHistorical(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sourcerecords.UnmarkHistorical")
	defer span.End()

	ctx, markers, err := ectoinject.GetContext[*historical.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := markers.Delete(ctx, c.Param("system"), c.Param("id")); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// ListHistoricalMarkers lists historical-only markers
func ListHistoricalMarkers(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "sourcerecords.ListHistoricalMarkers")
	defer span.End()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	ctx, markers, err := ectoinject.GetContext[*historical.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	list, err := markers.List(ctx, c.QueryParam("source_system"), limit, offset)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, list)
}
