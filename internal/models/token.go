package models

// Token is one participant's progress ticket in a queue.
type Token struct {
	TokenID              string `json:"tokenId"`
	QueueRef             string `json:"queueRef"`
	ProfileID            string `json:"profileId"`
	ProfileName          string `json:"profileName"`
	ProductRef           string `json:"productRef"`
	ProductName          string `json:"productName"`
	ParticipantProductID string `json:"participantProductId,omitempty"` // optional
	CurrentStage         string `json:"currentStage"`
	TokenStatus          string `json:"tokenStatus"`
	StageStatus          string `json:"stageStatus"`
}

// TokenFromDocument decodes a queue_token document.
func TokenFromDocument(d Document) Token {
	return Token{
		TokenID:              d.ID,
		QueueRef:             d.String("queueref"),
		ProfileID:            d.String("profile_id"),
		ProfileName:          d.String("profile_name"),
		ProductRef:           d.String("productref"),
		ProductName:          d.String("productname"),
		ParticipantProductID: d.String("participantproductid"),
		CurrentStage:         d.String("currentstage"),
		TokenStatus:          d.String("tokenstatus"),
		StageStatus:          d.String("stagestatus"),
	}
}

// TokensFromDocuments decodes a snapshot, preserving order.
func TokensFromDocuments(docs []Document) []Token {
	out := make([]Token, 0, len(docs))
	for _, d := range docs {
		out = append(out, TokenFromDocument(d))
	}
	return out
}
