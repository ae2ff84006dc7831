package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	// Parsed content
	Row *models.IngestedRow
}

// ParseIngestedRow parses the message value as a normalized intake row.
// Rows missing their natural key are rejected here so the handler never
// sees an unidentifiable row.
func (m *IncomingMessage) ParseIngestedRow() error {
	var row models.IngestedRow
	if err := json.Unmarshal(m.Value, &row); err != nil {
		return err
	}
	if row.SourceSystem == "" || row.SourceRecordID == "" {
		return fmt.Errorf("intake row missing source_system or source_record_id (key=%q)", m.Key)
	}
	if row.ObservedAt.IsZero() {
		row.ObservedAt = m.Timestamp
	}
	m.Row = &row
	return nil
}

// GetSourceSystem returns the source system from the parsed row, falling
// back to the header set by the ingestion jobs.
func (m *IncomingMessage) GetSourceSystem() string {
	if m.Row != nil {
		return m.Row.SourceSystem
	}
	return m.Headers["source_system"]
}

// GetSourceKey returns the natural key of the parsed row.
func (m *IncomingMessage) GetSourceKey() string {
	if m.Row != nil {
		return m.Row.SourceSystem + ":" + m.Row.SourceRecordID
	}
	return m.Key
}
