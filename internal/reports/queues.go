package reports

import (
	"sort"
	"strings"

	"github.com/queue-status/backend/internal/models"
)

// SortQueues orders by end date descending; queues without an end date go last.
func SortQueues(queues []models.Queue) {
	sort.SliceStable(queues, func(i, j int) bool {
		a, b := queues[i].EndDate, queues[j].EndDate
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
}

// SearchQueues keeps queues whose name or id contains term, case-insensitively.
func SearchQueues(queues []models.Queue, term string) []models.Queue {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return queues
	}
	out := make([]models.Queue, 0, len(queues))
	for _, q := range queues {
		if strings.Contains(strings.ToLower(q.QueueName), term) || strings.Contains(strings.ToLower(q.ID), term) {
			out = append(out, q)
		}
	}
	return out
}
