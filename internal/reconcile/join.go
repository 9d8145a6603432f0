// Package reconcile joins queue tokens to participant-product and
// event-participation records, validates each joined row and aggregates
// the result into a per-queue report. Everything here is pure.
package reconcile

import (
	"github.com/queue-status/backend/internal/models"
)

// Sources is one snapshot of the inputs for a single queue.
type Sources struct {
	Tokens              []models.Token
	ParticipantProducts []models.ParticipantProduct
	EventParticipations []models.EventParticipationRequest
	ArenaEvents         []models.ArenaEvent // optional; used when a participant-product has no eventParticipationId
}

type pairKey struct {
	a, b string
}

type joinIndex struct {
	ppByID      map[string]*models.ParticipantProduct
	ppByProfile map[pairKey]*models.ParticipantProduct // (profileId, productRef), first wins
	epByID      map[string]*models.EventParticipationRequest
	epByLink    map[pairKey]*models.EventParticipationRequest // (participantProductId, arenaEventId), first wins
	arenaByRef  map[pairKey]string                            // (productRef, eventRef) -> arena event id
}

func buildIndex(src Sources) *joinIndex {
	idx := &joinIndex{
		ppByID:      make(map[string]*models.ParticipantProduct, len(src.ParticipantProducts)),
		ppByProfile: make(map[pairKey]*models.ParticipantProduct, len(src.ParticipantProducts)),
		epByID:      make(map[string]*models.EventParticipationRequest, len(src.EventParticipations)),
		epByLink:    make(map[pairKey]*models.EventParticipationRequest, len(src.EventParticipations)),
		arenaByRef:  make(map[pairKey]string, len(src.ArenaEvents)),
	}
	for i := range src.ParticipantProducts {
		pp := &src.ParticipantProducts[i]
		if pp.ID != "" {
			if _, dup := idx.ppByID[pp.ID]; !dup {
				idx.ppByID[pp.ID] = pp
			}
		}
		if pp.ProfileID != "" && pp.ProductRef != "" {
			k := pairKey{pp.ProfileID, pp.ProductRef}
			if _, dup := idx.ppByProfile[k]; !dup {
				idx.ppByProfile[k] = pp
			}
		}
	}
	for i := range src.EventParticipations {
		ep := &src.EventParticipations[i]
		if ep.ID != "" {
			if _, dup := idx.epByID[ep.ID]; !dup {
				idx.epByID[ep.ID] = ep
			}
		}
		if ep.ParticipantProductID != "" && ep.ArenaEventID != "" {
			k := pairKey{ep.ParticipantProductID, ep.ArenaEventID}
			if _, dup := idx.epByLink[k]; !dup {
				idx.epByLink[k] = ep
			}
		}
	}
	for _, ae := range src.ArenaEvents {
		if ae.ID == "" {
			continue
		}
		k := pairKey{ae.ProductRef, ae.EventRef}
		if _, dup := idx.arenaByRef[k]; !dup {
			idx.arenaByRef[k] = ae.ID
		}
	}
	return idx
}

// participantProduct resolves the token's enrollment. A token carrying a
// participantProductId is matched by id only; the (profileId, productRef)
// pair is used for tokens without one.
func (idx *joinIndex) participantProduct(t models.Token) *models.ParticipantProduct {
	if t.ParticipantProductID != "" {
		return idx.ppByID[t.ParticipantProductID]
	}
	if t.ProfileID == "" || t.ProductRef == "" {
		return nil
	}
	return idx.ppByProfile[pairKey{t.ProfileID, t.ProductRef}]
}

func (idx *joinIndex) eventParticipation(pp *models.ParticipantProduct, queueRef string) *models.EventParticipationRequest {
	if pp.EventParticipationID != "" {
		return idx.epByID[pp.EventParticipationID]
	}
	eventRef := pp.EventRef
	if eventRef == "" {
		eventRef = queueRef
	}
	arenaID, ok := idx.arenaByRef[pairKey{pp.ProductRef, eventRef}]
	if !ok {
		return nil
	}
	return idx.epByLink[pairKey{pp.ID, arenaID}]
}

// Join emits exactly one record per token, in token order. Unmatched joins
// carry sentinel values. Validation fields are left zero.
func Join(src Sources) []models.JoinedRecord {
	idx := buildIndex(src)
	out := make([]models.JoinedRecord, 0, len(src.Tokens))
	for _, t := range src.Tokens {
		rec := models.JoinedRecord{
			Token:                    t,
			ProductStatus:            models.StatusUnresolved,
			IntegrationMode:          models.ModeUnresolved,
			EventParticipationStatus: models.EventParticipationMissing,
		}
		// The record carries the id of the enrollment it actually resolved to.
		rec.ParticipantProductID = ""

		if pp := idx.participantProduct(t); pp != nil {
			rec.ParticipantProductID = pp.ID
			if pp.Status != "" {
				rec.ProductStatus = pp.Status
			}
			rec.IntegrationMode = normalizeMode(pp.Mode)
			if ep := idx.eventParticipation(pp, t.QueueRef); ep != nil && ep.Status != "" {
				rec.EventParticipationStatus = ep.Status
			}
		}
		out = append(out, rec)
	}
	return out
}

func normalizeMode(mode string) string {
	if mode == "" {
		return models.ModeUnresolved
	}
	return mode
}
