package models

// ParticipantProduct is a participant's enrollment state in a product.
type ParticipantProduct struct {
	ID                   string `json:"id"`
	ProfileID            string `json:"profileId"`
	ProductRef           string `json:"productRef"`
	EventRef             string `json:"eventRef"`
	Status               string `json:"status"`
	Mode                 string `json:"mode"` // raw; blank or non-string upstream values decode to ""
	EventParticipationID string `json:"eventParticipationId,omitempty"`
}

// ParticipantProductFromDocument decodes a participantsproduct document.
// mode falls back to integrationMode for older records.
func ParticipantProductFromDocument(d Document) ParticipantProduct {
	return ParticipantProduct{
		ID:                   d.ID,
		ProfileID:            d.String("profileid"),
		ProductRef:           d.String("productref"),
		EventRef:             d.String("eventref"),
		Status:               d.String("status"),
		Mode:                 d.FirstString("mode", "integrationMode"),
		EventParticipationID: d.String("eventparticipationid"),
	}
}

// ParticipantProductsFromDocuments decodes a snapshot, preserving order.
func ParticipantProductsFromDocuments(docs []Document) []ParticipantProduct {
	out := make([]ParticipantProduct, 0, len(docs))
	for _, d := range docs {
		out = append(out, ParticipantProductFromDocument(d))
	}
	return out
}
