package reconcile

import (
	"strings"

	"github.com/queue-status/backend/internal/models"
)

var (
	baseProductStatuses = []string{"completed", "initiated", "ongoing", "cancelled"}
	baseTokenStatuses   = []string{"active", "inactive", "shifted"}
)

// Summary holds dashboard counts over every record of a report.
// Status keys are lower-cased; the base statuses are always present.
type Summary struct {
	Total           int                         `json:"total"`
	Valid           int                         `json:"valid"`
	Failed          int                         `json:"failed"`
	ByProductStatus map[string]int              `json:"byProductStatus"`
	ByTokenStatus   map[string]int              `json:"byTokenStatus"`
	ByInvalidGroup  map[models.InvalidGroup]int `json:"byInvalidGroup"`
}

// Report is the reconciled view of one queue.
type Report struct {
	QueueID string                `json:"queueId"`
	Records []models.JoinedRecord `json:"records"`
	Summary Summary               `json:"summary"`
}

// ComputeReport joins, validates and summarizes src. It holds no state.
func ComputeReport(queueID string, src Sources, v *Validator) Report {
	if v == nil {
		v = NewValidator()
	}
	records := Join(src)
	for i := range records {
		v.Apply(&records[i])
		records[i].IndexSearchText()
	}
	return Report{
		QueueID: queueID,
		Records: records,
		Summary: Summarize(records),
	}
}

// Summarize recounts everything with a full scan.
func Summarize(records []models.JoinedRecord) Summary {
	s := Summary{
		Total:           len(records),
		ByProductStatus: make(map[string]int, len(baseProductStatuses)),
		ByTokenStatus:   make(map[string]int, len(baseTokenStatuses)),
		ByInvalidGroup:  make(map[models.InvalidGroup]int, len(models.InvalidGroups)),
	}
	for _, k := range baseProductStatuses {
		s.ByProductStatus[k] = 0
	}
	for _, k := range baseTokenStatuses {
		s.ByTokenStatus[k] = 0
	}
	for _, g := range models.InvalidGroups {
		s.ByInvalidGroup[g] = 0
	}

	for i := range records {
		r := &records[i]
		s.ByProductStatus[countKey(r.ProductStatus)]++
		s.ByTokenStatus[countKey(r.TokenStatus)]++
		if r.ValidationPassed {
			s.Valid++
			continue
		}
		s.Failed++
		if r.InvalidGroup != models.InvalidGroupNone {
			s.ByInvalidGroup[r.InvalidGroup]++
		}
	}
	return s
}

// Failures returns the records that failed validation, in report order.
func (r Report) Failures() []models.JoinedRecord {
	var out []models.JoinedRecord
	for _, rec := range r.Records {
		if !rec.ValidationPassed {
			out = append(out, rec)
		}
	}
	return out
}

func countKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return models.StatusUnresolved
	}
	return s
}
