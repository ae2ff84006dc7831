// Package review implements the human review queue over match candidates.
// Every non-guarded link decision flows through here: accept executes a
// journaled merge, reject is terminal and auditable.
package review

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/matchcandidate"
	"github.com/Ramsey-B/fern/internal/repositories/sourcerecord"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Queue coordinates candidate review decisions
type Queue struct {
	logger        ectologger.Logger
	candidateRepo *matchcandidate.Repository
	sourceRepo    *sourcerecord.Repository
	merger        *merging.Engine
}

// NewQueue creates a new review queue
func NewQueue(
	logger ectologger.Logger,
	candidateRepo *matchcandidate.Repository,
	sourceRepo *sourcerecord.Repository,
	merger *merging.Engine,
) *Queue {
	return &Queue{
		logger:        logger,
		candidateRepo: candidateRepo,
		sourceRepo:    sourceRepo,
		merger:        merger,
	}
}

// List returns candidates in review order.
func (q *Queue) List(ctx context.Context, filter matchcandidate.ListFilter) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Queue.List")
	defer span.End()

	return q.candidateRepo.List(ctx, filter)
}

// Get returns one candidate.
func (q *Queue) Get(ctx context.Context, id string) (*models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Queue.Get")
	defer span.End()

	return q.candidateRepo.Get(ctx, id)
}

// Summary returns queue counts by status.
func (q *Queue) Summary(ctx context.Context) (map[string]int, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Queue.Summary")
	defer span.End()

	return q.candidateRepo.CountByStatus(ctx)
}

// Accept links the candidate's source record to its proposed entity. The
// merge is journaled and reversible; sibling candidates for the same record
// are superseded because the record is no longer unlinked.
func (q *Queue) Accept(ctx context.Context, candidateID, reviewedBy string) (*models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Queue.Accept")
	defer span.End()

	return q.accept(ctx, candidateID, reviewedBy, models.MergeMethodCandidate)
}

// AutoAccept links a tier-0 candidate without a human in the loop. Only the
// generation job calls this, and only when auto-accept is enabled by policy.
func (q *Queue) AutoAccept(ctx context.Context, candidateID string) (*models.MergeOperation, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Queue.AutoAccept")
	defer span.End()

	candidate, err := q.candidateRepo.Get(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if candidate.Tier != models.TierExactContact {
		return nil, httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "candidate %s is tier %d; only tier 0 can auto-accept", candidateID, candidate.Tier)
	}

	return q.accept(ctx, candidateID, "system", models.MergeMethodAuto)
}

func (q *Queue) accept(ctx context.Context, candidateID, reviewedBy string, method models.MergeMethod) (*models.MergeOperation, error) {
	candidate, err := q.candidateRepo.Get(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if candidate.IsTerminal() {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "match candidate %s is already %s", candidateID, candidate.Status)
	}

	rec, err := q.sourceRepo.GetByKey(ctx, candidate.SourceSystem, candidate.SourceRecordID)
	if err != nil {
		return nil, err
	}

	// the proposed entity may itself have been merged since generation;
	// always link against the canonical head
	entityID, err := q.merger.ResolveCanonical(ctx, candidate.EntityType, candidate.CandidateEntityID)
	if err != nil {
		return nil, err
	}

	linkMethod := models.LinkMethodFuzzy
	if candidate.Tier == models.TierExactContact {
		linkMethod = models.LinkMethodExact
	}

	// the link and the candidate resolution commit together: the record is
	// never linked while its candidate is still open
	ctxTx, tx, err := q.candidateRepo.DB().GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin accept transaction")
	}
	defer tx.Rollback(ctxTx)

	op, err := q.merger.LinkRecord(ctxTx, rec, candidate.EntityType, entityID, method, linkMethod, candidate.Confidence, &candidate.ID, reviewedBy)
	if err != nil {
		return nil, err
	}

	if err := q.candidateRepo.Resolve(ctxTx, candidateID, models.MatchCandidateStatusAccepted, reviewedBy, nil); err != nil {
		return nil, err
	}

	superseded, err := q.candidateRepo.SupersedeSiblings(ctxTx, candidate.SourceSystem, candidate.SourceRecordID, candidateID, reviewedBy)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit accept")
	}

	auto := "false"
	if method == models.MergeMethodAuto {
		auto = "true"
	}
	metrics.CandidatesResolvedTotal.WithLabelValues(string(models.MatchCandidateStatusAccepted), auto).Inc()

	q.logger.WithContext(ctx).WithFields(map[string]any{
		"candidate_id": candidateID,
		"operation_id": op.ID,
		"superseded":   superseded,
	}).Info("Match candidate accepted")

	return op, nil
}

// Reject closes a candidate without linking. Terminal: the pair can only
// come back through a fresh generation pass.
func (q *Queue) Reject(ctx context.Context, candidateID, reviewedBy string, req models.RejectCandidateRequest) error {
	ctx, span := tracing.StartSpan(ctx, "review.Queue.Reject")
	defer span.End()

	candidate, err := q.candidateRepo.Get(ctx, candidateID)
	if err != nil {
		return err
	}
	if candidate.IsTerminal() {
		return httperror.NewHTTPErrorf(http.StatusConflict, "match candidate %s is already %s", candidateID, candidate.Status)
	}

	if err := q.candidateRepo.Resolve(ctx, candidateID, models.MatchCandidateStatusRejected, reviewedBy, &req.Reason); err != nil {
		return err
	}

	metrics.CandidatesResolvedTotal.WithLabelValues(string(models.MatchCandidateStatusRejected), "false").Inc()

	q.logger.WithContext(ctx).WithFields(map[string]any{
		"candidate_id": candidateID,
		"reason":       req.Reason,
	}).Info("Match candidate rejected")

	return nil
}
