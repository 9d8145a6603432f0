package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queue-status/backend/internal/models"
)

func TestJoin_OneRecordPerTokenInOrder(t *testing.T) {
	src := Sources{
		Tokens: []models.Token{
			{TokenID: "t3", ParticipantProductID: "pp1"},
			{TokenID: "t1", ParticipantProductID: "missing"},
			{TokenID: "t2"},
			{TokenID: "t1-dup", ParticipantProductID: "pp1"},
		},
		ParticipantProducts: []models.ParticipantProduct{{ID: "pp1", Status: "ongoing", Mode: "event mode"}},
	}

	got := Join(src)
	require.Len(t, got, len(src.Tokens))
	for i, rec := range got {
		assert.Equal(t, src.Tokens[i].TokenID, rec.TokenID)
	}
}

func TestJoin_ByParticipantProductID(t *testing.T) {
	src := Sources{
		Tokens: []models.Token{{TokenID: "t1", ProfileID: "p1", ProductRef: "prod", ParticipantProductID: "pp2"}},
		ParticipantProducts: []models.ParticipantProduct{
			{ID: "pp1", ProfileID: "p1", ProductRef: "prod", Status: "cancelled"},
			{ID: "pp2", ProfileID: "other", ProductRef: "other", Status: "completed", Mode: "Integration Mode", EventParticipationID: "ep1"},
		},
		EventParticipations: []models.EventParticipationRequest{{ID: "ep1", Status: "approved"}},
	}

	rec := Join(src)[0]
	assert.Equal(t, "pp2", rec.ParticipantProductID)
	assert.Equal(t, "completed", rec.ProductStatus)
	assert.Equal(t, "Integration Mode", rec.IntegrationMode)
	assert.Equal(t, "approved", rec.EventParticipationStatus)
}

func TestJoin_FallbackOnProfileAndProduct(t *testing.T) {
	src := Sources{
		Tokens: []models.Token{{TokenID: "t1", ProfileID: "p1", ProductRef: "prod"}},
		ParticipantProducts: []models.ParticipantProduct{
			{ID: "ppA", ProfileID: "p1", ProductRef: "prod", Status: "ongoing", Mode: "event mode"},
			{ID: "ppB", ProfileID: "p1", ProductRef: "prod", Status: "completed"},
		},
	}

	rec := Join(src)[0]
	assert.Equal(t, "ppA", rec.ParticipantProductID, "first match in input order wins")
	assert.Equal(t, "ongoing", rec.ProductStatus)
	assert.Equal(t, models.EventParticipationMissing, rec.EventParticipationStatus)
}

func TestJoin_IDMissDoesNotFallBack(t *testing.T) {
	src := Sources{
		Tokens:              []models.Token{{TokenID: "t1", ProfileID: "p1", ProductRef: "prod", ParticipantProductID: "gone"}},
		ParticipantProducts: []models.ParticipantProduct{{ID: "ppA", ProfileID: "p1", ProductRef: "prod", Status: "ongoing"}},
	}

	rec := Join(src)[0]
	assert.Equal(t, "", rec.ParticipantProductID)
	assert.Equal(t, models.StatusUnresolved, rec.ProductStatus)
	assert.Equal(t, models.ModeUnresolved, rec.IntegrationMode)
	assert.Equal(t, models.EventParticipationMissing, rec.EventParticipationStatus)
}

func TestJoin_BlankModeNormalizesToNull(t *testing.T) {
	src := Sources{
		Tokens:              []models.Token{{TokenID: "t1", ParticipantProductID: "pp"}},
		ParticipantProducts: []models.ParticipantProduct{{ID: "pp", Status: "ongoing"}},
	}

	assert.Equal(t, "null", Join(src)[0].IntegrationMode)
}

func TestJoin_ArenaEventResolution(t *testing.T) {
	src := Sources{
		Tokens: []models.Token{{TokenID: "t1", QueueRef: "q1", ParticipantProductID: "pp"}},
		ParticipantProducts: []models.ParticipantProduct{
			{ID: "pp", ProductRef: "prod", Status: "ongoing", Mode: "event mode"},
		},
		ArenaEvents: []models.ArenaEvent{{ID: "arena", ProductRef: "prod", EventRef: "q1"}},
		EventParticipations: []models.EventParticipationRequest{
			{ID: "ep-other", ParticipantProductID: "pp", ArenaEventID: "elsewhere", Status: "denied"},
			{ID: "ep", ParticipantProductID: "pp", ArenaEventID: "arena", Status: "approved"},
		},
	}

	assert.Equal(t, "approved", Join(src)[0].EventParticipationStatus)
}

func TestJoin_UnresolvedEventParticipationID(t *testing.T) {
	src := Sources{
		Tokens:              []models.Token{{TokenID: "t1", ParticipantProductID: "pp"}},
		ParticipantProducts: []models.ParticipantProduct{{ID: "pp", EventParticipationID: "nope"}},
		EventParticipations: []models.EventParticipationRequest{{ID: "ep", Status: "approved"}},
	}

	assert.Equal(t, models.EventParticipationMissing, Join(src)[0].EventParticipationStatus)
}
