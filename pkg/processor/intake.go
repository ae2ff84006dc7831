// Package processor hosts the background workers: the intake consumer
// handler that lands rows in the registry, and the periodic candidate
// generation job.
package processor

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/sourcerecord"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Intake lands normalized rows from the intake topic into source_records.
// It never touches canonical entities; linking is a separate, reviewed step.
type Intake struct {
	logger     ectologger.Logger
	sourceRepo *sourcerecord.Repository
}

func NewIntake(logger ectologger.Logger, sourceRepo *sourcerecord.Repository) *Intake {
	return &Intake{
		logger:     logger,
		sourceRepo: sourceRepo,
	}
}

// HandleMessage is the kafka.MessageHandler for the intake topic. Returning
// an error leaves the offset uncommitted, so transient database failures
// retry.
func (p *Intake) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Intake.HandleMessage")
	defer span.End()

	row := msg.Row

	outcome, err := p.ingest(ctx, row)
	if err != nil {
		metrics.IntakeRowsTotal.WithLabelValues(row.SourceSystem, "error").Inc()
		return err
	}

	metrics.IntakeRowsTotal.WithLabelValues(row.SourceSystem, outcome).Inc()
	return nil
}

// Ingest upserts one row directly, bypassing Kafka. The HTTP intake
// endpoint and backfill tooling share this path with the consumer.
func (p *Intake) Ingest(ctx context.Context, row *models.IngestedRow) (*models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Intake.Ingest")
	defer span.End()

	rec, _, err := p.upsert(ctx, row)
	return rec, err
}

func (p *Intake) ingest(ctx context.Context, row *models.IngestedRow) (string, error) {
	_, outcome, err := p.upsert(ctx, row)
	return outcome, err
}

func (p *Intake) upsert(ctx context.Context, row *models.IngestedRow) (*models.SourceRecord, string, error) {
	hash := row.ContentHash
	if hash == "" {
		hash = fingerprint.Row(row.Name, row.Phone, row.Email, row.Address)
	}

	outcome := "created"
	existing, err := p.sourceRepo.GetByKey(ctx, row.SourceSystem, row.SourceRecordID)
	switch {
	case err == nil:
		if fingerprint.HasChanged(existing.ContentHash, hash) {
			outcome = "changed"
		} else {
			outcome = "observed"
		}
	case httperror.GetStatusCode(err) == http.StatusNotFound:
		// first sighting
	default:
		return nil, "", err
	}

	rec := &models.SourceRecord{
		SourceSystem:   row.SourceSystem,
		SourceRecordID: row.SourceRecordID,
		RawName:        models.StringPtr(row.Name),
		RawPhone:       models.StringPtr(row.Phone),
		RawEmail:       models.StringPtr(row.Email),
		RawAddress:     models.StringPtr(row.Address),
		ContentHash:    hash,
		LastSeenAt:     row.ObservedAt,
	}

	saved, err := p.sourceRepo.Upsert(ctx, rec)
	if err != nil {
		return nil, "", err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"source_key": saved.Key().String(),
		"outcome":    outcome,
	}).Debug("Intake row landed")

	return saved, outcome, nil
}
