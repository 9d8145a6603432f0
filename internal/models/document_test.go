package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentString_NonStringIsEmpty(t *testing.T) {
	d := Document{Data: map[string]any{"mode": 42.0, "status": "  ongoing "}}

	assert.Equal(t, "", d.String("mode"))
	assert.Equal(t, "ongoing", d.String("status"))
	assert.Equal(t, "", d.String("missing"))
}

func TestQueueFromDocument_NameFallbackAndEndDate(t *testing.T) {
	d := Document{ID: "q1", Data: map[string]any{"name": "Morning", "queueenddate": "2026-01-02T03:04:05Z"}}

	q := QueueFromDocument(d)
	assert.Equal(t, "Morning", q.QueueName)
	require.NotNil(t, q.EndDate)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), *q.EndDate)

	d.Data["queueenddate"] = float64(1700000000)
	q = QueueFromDocument(d)
	require.NotNil(t, q.EndDate)
	assert.Equal(t, int64(1700000000), q.EndDate.Unix())

	delete(d.Data, "queueenddate")
	assert.Nil(t, QueueFromDocument(d).EndDate)
}

func TestParticipantProductFromDocument_ModeFallback(t *testing.T) {
	pp := ParticipantProductFromDocument(Document{ID: "pp", Data: map[string]any{"integrationMode": "Event Mode"}})
	assert.Equal(t, "Event Mode", pp.Mode)

	pp = ParticipantProductFromDocument(Document{ID: "pp", Data: map[string]any{"mode": true}})
	assert.Equal(t, "", pp.Mode)
}

func TestParseInvalidGroup(t *testing.T) {
	g, ok := ParseInvalidGroup("no_ppid")
	assert.True(t, ok)
	assert.Equal(t, InvalidGroupNoPPID, g)

	_, ok = ParseInvalidGroup("bogus")
	assert.False(t, ok)
}
