package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/queue-status/backend/internal/models"
)

// DefaultPageSize is used when a page size is not positive.
const DefaultPageSize = 10

// KPIKind is the family of a KPI selection.
type KPIKind string

const (
	KPIProductStatus KPIKind = "productStatus"
	KPITokenStatus   KPIKind = "tokenStatus"
	KPIValidity      KPIKind = "validity"
	KPIInvalidGroup  KPIKind = "invalidGroup"
)

// KPI is a single dashboard tile selection. Only one can be active.
type KPI struct {
	Kind  KPIKind `json:"kind"`
	Value string  `json:"value"`
}

// ParseKPI accepts "kind:value", or a bare value: valid, invalid, an
// invalid-group tag, a base token status, or otherwise a product status.
func ParseKPI(s string) (*KPI, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if kind, value, ok := strings.Cut(s, ":"); ok {
		k := &KPI{Kind: KPIKind(kind), Value: strings.TrimSpace(value)}
		switch k.Kind {
		case KPIProductStatus, KPITokenStatus:
			k.Value = strings.ToLower(k.Value)
		case KPIValidity:
			k.Value = strings.ToLower(k.Value)
			if k.Value != "valid" && k.Value != "invalid" {
				return nil, fmt.Errorf("invalid validity kpi %q", value)
			}
		case KPIInvalidGroup:
			g, ok := models.ParseInvalidGroup(k.Value)
			if !ok {
				return nil, fmt.Errorf("unknown invalid group %q", value)
			}
			k.Value = string(g)
		default:
			return nil, fmt.Errorf("unknown kpi kind %q", kind)
		}
		if k.Value == "" {
			return nil, fmt.Errorf("empty kpi value for %q", kind)
		}
		return k, nil
	}

	lower := strings.ToLower(s)
	if lower == "valid" || lower == "invalid" {
		return &KPI{Kind: KPIValidity, Value: lower}, nil
	}
	if g, ok := models.ParseInvalidGroup(s); ok {
		return &KPI{Kind: KPIInvalidGroup, Value: string(g)}, nil
	}
	for _, ts := range baseTokenStatuses {
		if lower == ts {
			return &KPI{Kind: KPITokenStatus, Value: lower}, nil
		}
	}
	return &KPI{Kind: KPIProductStatus, Value: lower}, nil
}

func (k KPI) match(r *models.JoinedRecord) bool {
	switch k.Kind {
	case KPIProductStatus:
		return strings.ToLower(r.ProductStatus) == k.Value
	case KPITokenStatus:
		return strings.ToLower(r.TokenStatus) == k.Value
	case KPIValidity:
		return r.ValidationPassed == (k.Value == "valid")
	case KPIInvalidGroup:
		return !r.ValidationPassed && string(r.InvalidGroup) == k.Value
	}
	return false
}

// Filter is a conjunction of optional predicates. Zero value matches everything.
type Filter struct {
	IntegrationMode string `json:"integrationMode,omitempty"`
	ProductName     string `json:"productName,omitempty"`
	TokenStage      string `json:"tokenStage,omitempty"`
	KPI             *KPI   `json:"kpi,omitempty"`
	Search          string `json:"search,omitempty"`
}

// ToggleKPI selects k, or clears the selection when k is already active.
func (f Filter) ToggleKPI(k KPI) Filter {
	if f.KPI != nil && *f.KPI == k {
		f.KPI = nil
		return f
	}
	f.KPI = &k
	return f
}

// Match reports whether r satisfies every set predicate.
func (f Filter) Match(r *models.JoinedRecord) bool {
	if f.IntegrationMode != "" && r.IntegrationMode != f.IntegrationMode {
		return false
	}
	if f.ProductName != "" && r.ProductName != f.ProductName {
		return false
	}
	if f.TokenStage != "" && r.CurrentStage != f.TokenStage {
		return false
	}
	if f.KPI != nil && !f.KPI.match(r) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" && !strings.Contains(r.SearchText(), q) {
		return false
	}
	return true
}

// Apply returns the matching records in input order, or grouped by failure
// when an invalid-group KPI is active.
func (f Filter) Apply(records []models.JoinedRecord) []models.JoinedRecord {
	out := make([]models.JoinedRecord, 0, len(records))
	for i := range records {
		if f.Match(&records[i]) {
			out = append(out, records[i])
		}
	}
	if f.KPI != nil && f.KPI.Kind == KPIInvalidGroup {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := &out[i], &out[j]
			if a.ValidationReason != b.ValidationReason {
				return a.ValidationReason < b.ValidationReason
			}
			if a.ProductName != b.ProductName {
				return a.ProductName < b.ProductName
			}
			return a.EventParticipationStatus < b.EventParticipationStatus
		})
	}
	return out
}

// Page is one slice of a filtered record set. Number is 1-based.
type Page struct {
	Number     int                   `json:"page"`
	Size       int                   `json:"pageSize"`
	TotalPages int                   `json:"totalPages"`
	TotalItems int                   `json:"totalItems"`
	Items      []models.JoinedRecord `json:"items"`
}

// Paginate clamps out-of-range page numbers instead of failing.
func Paginate(records []models.JoinedRecord, page, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	n := len(records)
	totalPages := (n + size - 1) / size
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	end := start + size
	if start > n {
		start = n
	}
	if end > n {
		end = n
	}
	return Page{
		Number:     page,
		Size:       size,
		TotalPages: totalPages,
		TotalItems: n,
		Items:      records[start:end:end],
	}
}

// OptionCount is one distinct value and how many records carry it.
type OptionCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Options lists the selectable values for each dropdown filter.
type Options struct {
	IntegrationModes []OptionCount `json:"integrationModes"`
	ProductNames     []OptionCount `json:"productNames"`
	TokenStages      []OptionCount `json:"tokenStages"`
}

// BuildOptions counts distinct values over records. All three lists share the same base set.
func BuildOptions(records []models.JoinedRecord) Options {
	modes := map[string]int{}
	products := map[string]int{}
	stages := map[string]int{}
	for i := range records {
		modes[records[i].IntegrationMode]++
		products[records[i].ProductName]++
		stages[records[i].CurrentStage]++
	}
	return Options{
		IntegrationModes: sortedCounts(modes),
		ProductNames:     sortedCounts(products),
		TokenStages:      sortedCounts(stages),
	}
}

func sortedCounts(m map[string]int) []OptionCount {
	out := make([]OptionCount, 0, len(m))
	for v, c := range m {
		out = append(out, OptionCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// ViewRequest selects what a dashboard consumer sees of a report.
type ViewRequest struct {
	Filter   Filter `json:"filter"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

// View is the dashboard projection of a report.
type View struct {
	QueueID string  `json:"queueId"`
	Summary Summary `json:"summary"`
	Options Options `json:"options"`
	Page    Page    `json:"page"`
}

// View filters and paginates the report. Options are computed over the unfiltered records.
func (r Report) View(req ViewRequest) View {
	filtered := req.Filter.Apply(r.Records)
	return View{
		QueueID: r.QueueID,
		Summary: r.Summary,
		Options: BuildOptions(r.Records),
		Page:    Paginate(filtered, req.Page, req.PageSize),
	}
}
