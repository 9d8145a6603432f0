package models

// EventParticipationRequest links a participant-product to an arena event.
type EventParticipationRequest struct {
	ID                   string `json:"id"`
	ParticipantProductID string `json:"participantProductId"`
	ArenaEventID         string `json:"arenaEventId"`
	Status               string `json:"status"` // approved | denied
}

// ArenaEvent is used only to resolve an arena event id from (productRef, eventRef).
type ArenaEvent struct {
	ID         string `json:"id"`
	ProductRef string `json:"productRef"`
	EventRef   string `json:"eventRef"`
}

// EventParticipationFromDocument decodes an event participation request document.
func EventParticipationFromDocument(d Document) EventParticipationRequest {
	return EventParticipationRequest{
		ID:                   d.ID,
		ParticipantProductID: d.String("participantproductid"),
		ArenaEventID:         d.String("arenaeventid"),
		Status:               d.String("status"),
	}
}

// EventParticipationsFromDocuments decodes a snapshot, preserving order.
func EventParticipationsFromDocuments(docs []Document) []EventParticipationRequest {
	out := make([]EventParticipationRequest, 0, len(docs))
	for _, d := range docs {
		out = append(out, EventParticipationFromDocument(d))
	}
	return out
}

// ArenaEventsFromDocuments decodes arena events documents, preserving order.
func ArenaEventsFromDocuments(docs []Document) []ArenaEvent {
	out := make([]ArenaEvent, 0, len(docs))
	for _, d := range docs {
		out = append(out, ArenaEvent{
			ID:         d.ID,
			ProductRef: d.String("productref"),
			EventRef:   d.String("eventref"),
		})
	}
	return out
}
