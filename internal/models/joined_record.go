package models

import (
	"encoding/json"
	"strings"
)

// Sentinel values for unresolved joins. They are domain values, not absences.
const (
	StatusUnresolved          = "-"
	ModeUnresolved            = "null"
	EventParticipationMissing = "Not Found"
)

// InvalidGroup buckets a failed validation by cause.
type InvalidGroup string

const (
	InvalidGroupNone                 InvalidGroup = ""
	InvalidGroupFlowMissing          InvalidGroup = "FLOW_MISSING"
	InvalidGroupNoPPID               InvalidGroup = "NO_PPID"
	InvalidGroupNoEventParticipation InvalidGroup = "NO_EVENT_PARTICIPATION"
)

// MarshalJSON renders InvalidGroupNone as null.
func (g InvalidGroup) MarshalJSON() ([]byte, error) {
	if g == InvalidGroupNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(g))
}

// InvalidGroups lists every failure bucket in priority order.
var InvalidGroups = []InvalidGroup{InvalidGroupNoPPID, InvalidGroupNoEventParticipation, InvalidGroupFlowMissing}

// ParseInvalidGroup accepts a group tag in any case.
func ParseInvalidGroup(s string) (InvalidGroup, bool) {
	for _, g := range InvalidGroups {
		if strings.EqualFold(string(g), s) {
			return g, true
		}
	}
	return InvalidGroupNone, false
}

// JoinedRecord is the denormalized per-token row of a report.
// ParticipantProductID holds the id of the resolved participant-product, empty when none matched.
type JoinedRecord struct {
	Token
	ProductStatus            string       `json:"productStatus"`
	IntegrationMode          string       `json:"integrationMode"`
	EventParticipationStatus string       `json:"eventParticipationStatus"`
	ValidationPassed         bool         `json:"validationPassed"`
	ValidationReason         string       `json:"validationReason"`
	InvalidGroup             InvalidGroup `json:"invalidGroup"`

	searchText string
}

// searchSeparator joins fields so a query cannot match across two of them.
const searchSeparator = "\x00"

// SearchText is the lower-cased projection used by free-text search. It never
// writes to r; records are shared between readers.
func (r *JoinedRecord) SearchText() string {
	if r.searchText != "" {
		return r.searchText
	}
	return r.buildSearchText()
}

// IndexSearchText precomputes SearchText. Call after all fields are final.
func (r *JoinedRecord) IndexSearchText() {
	r.searchText = r.buildSearchText()
}

func (r *JoinedRecord) buildSearchText() string {
	valid := "invalid"
	if r.ValidationPassed {
		valid = "valid"
	}
	parts := []string{
		r.TokenID, r.QueueRef, r.ProfileID, r.ProfileName, r.ProductRef, r.ProductName,
		r.ParticipantProductID, r.CurrentStage, r.TokenStatus, r.StageStatus,
		r.ProductStatus, r.IntegrationMode, r.EventParticipationStatus,
		r.ValidationReason, string(r.InvalidGroup), valid,
	}
	return strings.ToLower(strings.Join(parts, searchSeparator))
}
