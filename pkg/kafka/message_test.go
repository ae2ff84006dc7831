package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIngestedRow(t *testing.T) {
	t.Run("valid row", func(t *testing.T) {
		msg := &IncomingMessage{
			Key:   "clinic_a:rec-1",
			Value: []byte(`{"source_system":"clinic_a","source_record_id":"rec-1","name":"Jane Smith","phone":"707-555-1212","observed_at":"2026-05-01T00:00:00Z"}`),
		}

		require.NoError(t, msg.ParseIngestedRow())
		require.NotNil(t, msg.Row)
		assert.Equal(t, "clinic_a", msg.Row.SourceSystem)
		assert.Equal(t, "rec-1", msg.Row.SourceRecordID)
		assert.Equal(t, "Jane Smith", msg.Row.Name)
		assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), msg.Row.ObservedAt)
	})

	t.Run("invalid json", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`{not json`)}
		assert.Error(t, msg.ParseIngestedRow())
		assert.Nil(t, msg.Row)
	})

	t.Run("missing source system", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`{"source_record_id":"rec-1","name":"Jane"}`)}
		err := msg.ParseIngestedRow()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "missing source_system")
	})

	t.Run("missing source record id", func(t *testing.T) {
		msg := &IncomingMessage{Value: []byte(`{"source_system":"clinic_a","name":"Jane"}`)}
		assert.Error(t, msg.ParseIngestedRow())
	})

	t.Run("zero observed_at defaults to message timestamp", func(t *testing.T) {
		ts := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
		msg := &IncomingMessage{
			Value:     []byte(`{"source_system":"clinic_a","source_record_id":"rec-2"}`),
			Timestamp: ts,
		}

		require.NoError(t, msg.ParseIngestedRow())
		assert.Equal(t, ts, msg.Row.ObservedAt)
	})
}

func TestGetSourceSystem(t *testing.T) {
	t.Run("prefers parsed row", func(t *testing.T) {
		msg := &IncomingMessage{
			Headers: map[string]string{"source_system": "header_system"},
			Value:   []byte(`{"source_system":"clinic_a","source_record_id":"rec-1"}`),
		}
		require.NoError(t, msg.ParseIngestedRow())
		assert.Equal(t, "clinic_a", msg.GetSourceSystem())
	})

	t.Run("falls back to header when unparsed", func(t *testing.T) {
		msg := &IncomingMessage{Headers: map[string]string{"source_system": "header_system"}}
		assert.Equal(t, "header_system", msg.GetSourceSystem())
	})
}

func TestGetSourceKey(t *testing.T) {
	msg := &IncomingMessage{Key: "raw-key", Value: []byte(`{"source_system":"clinic_a","source_record_id":"rec-1"}`)}
	assert.Equal(t, "raw-key", msg.GetSourceKey())
	require.NoError(t, msg.ParseIngestedRow())
	assert.Equal(t, "clinic_a:rec-1", msg.GetSourceKey())
}
