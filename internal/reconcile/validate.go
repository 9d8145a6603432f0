package reconcile

import (
	"fmt"
	"strings"

	"github.com/queue-status/backend/internal/models"
)

const (
	statusCompleted = "completed"

	// ReasonEventParticipationNotFound is reported when the hard-fail precondition trips.
	ReasonEventParticipationNotFound = "event participation status not found"
)

// DefaultCompletionModes are the modes a completed record may be delivered in.
var DefaultCompletionModes = []string{"integration mode", "extended mode", "performance mode", "after performance mode"}

// DefaultEventModes are the modes an in-progress record may be delivered in.
var DefaultEventModes = []string{"event mode"}

// Input holds the four values a verdict depends on.
type Input struct {
	ProductStatus            string
	TokenStage               string
	IntegrationMode          string
	EventParticipationStatus string
}

func (in Input) lower() Input {
	return Input{
		ProductStatus:            strings.ToLower(strings.TrimSpace(in.ProductStatus)),
		TokenStage:               strings.ToLower(strings.TrimSpace(in.TokenStage)),
		IntegrationMode:          strings.ToLower(strings.TrimSpace(in.IntegrationMode)),
		EventParticipationStatus: strings.ToLower(strings.TrimSpace(in.EventParticipationStatus)),
	}
}

// Verdict is the result of validating one record.
type Verdict struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Rule accepts a record when Match returns true. Match receives lower-cased input.
type Rule struct {
	Name   string
	Reason string
	Match  func(in Input) bool
}

// CompletionRule passes records whose product and stage are both completed
// and whose mode is in modes.
func CompletionRule(modes []string) Rule {
	allowed := lowerSet(modes)
	return Rule{
		Name:   "completion",
		Reason: "Valid: completed via integration mode",
		Match: func(in Input) bool {
			_, ok := allowed[in.IntegrationMode]
			return ok && in.ProductStatus == statusCompleted && in.TokenStage == statusCompleted
		},
	}
}

// EventModeRule passes in-progress records delivered in one of modes.
func EventModeRule(modes []string) Rule {
	allowed := lowerSet(modes)
	return Rule{
		Name:   "event_mode",
		Reason: "Valid: event mode in progress",
		Match: func(in Input) bool {
			_, ok := allowed[in.IntegrationMode]
			return ok && in.ProductStatus != statusCompleted && in.TokenStage != statusCompleted
		},
	}
}

// DefaultRules returns the completion and event-mode rules with the default mode sets.
func DefaultRules() []Rule {
	return []Rule{CompletionRule(DefaultCompletionModes), EventModeRule(DefaultEventModes)}
}

// Validator applies an ordered rule table behind the event-participation precondition.
type Validator struct {
	rules []Rule
}

// NewValidator creates a validator; with no rules it uses DefaultRules.
func NewValidator(rules ...Rule) *Validator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Validator{rules: rules}
}

// Validate is total and deterministic over its four inputs.
func (v *Validator) Validate(in Input) Verdict {
	l := in.lower()
	if l.EventParticipationStatus == "" || l.EventParticipationStatus == strings.ToLower(models.EventParticipationMissing) {
		return Verdict{Passed: false, Reason: ReasonEventParticipationNotFound}
	}
	for _, r := range v.rules {
		if r.Match(l) {
			return Verdict{Passed: true, Reason: r.Reason}
		}
	}
	return Verdict{
		Passed: false,
		Reason: fmt.Sprintf("product status is %s, current stage is %s, mode is %s",
			orDefault(l.ProductStatus, "-"), orDefault(l.TokenStage, "-"), orDefault(l.IntegrationMode, models.ModeUnresolved)),
	}
}

// Apply validates rec in place and sets its invalid group.
func (v *Validator) Apply(rec *models.JoinedRecord) {
	verdict := v.Validate(Input{
		ProductStatus:            rec.ProductStatus,
		TokenStage:               rec.CurrentStage,
		IntegrationMode:          rec.IntegrationMode,
		EventParticipationStatus: rec.EventParticipationStatus,
	})
	rec.ValidationPassed = verdict.Passed
	rec.ValidationReason = verdict.Reason
	rec.InvalidGroup = Categorize(*rec)
}

// Categorize buckets a failed record. Passing records get InvalidGroupNone.
func Categorize(rec models.JoinedRecord) models.InvalidGroup {
	switch {
	case rec.ValidationPassed:
		return models.InvalidGroupNone
	case rec.ParticipantProductID == "":
		return models.InvalidGroupNoPPID
	case strings.EqualFold(rec.EventParticipationStatus, models.EventParticipationMissing):
		return models.InvalidGroupNoEventParticipation
	default:
		return models.InvalidGroupFlowMissing
	}
}

func lowerSet(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return m
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
