package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/queue-status/backend/internal/models"
)

var (
	// ErrUnknownCollection is returned for collections the store does not mirror.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrInvalidField is returned for malformed predicate fields or operators.
	ErrInvalidField = errors.New("invalid predicate")
	// ErrNotFound is returned by Get when no document matches.
	ErrNotFound = errors.New("document not found")
)

// OpEq is the only supported predicate operator.
const OpEq = "=="

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var collections = map[string]struct{}{
	models.CollectionQueues:              {},
	models.CollectionTokens:              {},
	models.CollectionParticipantProducts: {},
	models.CollectionEventParticipations: {},
	models.CollectionArenaEvents:         {},
}

// Predicate is an equality test on one top-level document field.
type Predicate struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// Eq builds a field == value predicate.
func Eq(field, value string) Predicate {
	return Predicate{Field: field, Op: OpEq, Value: value}
}

// KnownCollection reports whether name is mirrored by the store.
func KnownCollection(name string) bool {
	_, ok := collections[name]
	return ok
}

// buildQuery renders a parameterized SELECT. Rows are ordered by insertion so
// snapshots are stable across calls.
func buildQuery(collection string, preds []Predicate, limit int) (string, []any, error) {
	if !KnownCollection(collection) {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	var sb strings.Builder
	args := []any{collection}
	sb.WriteString("SELECT id, data, updated_at FROM documents WHERE collection = $1")
	for _, p := range preds {
		if p.Op != OpEq {
			return "", nil, fmt.Errorf("%w: operator %q", ErrInvalidField, p.Op)
		}
		if !fieldPattern.MatchString(p.Field) {
			return "", nil, fmt.Errorf("%w: field %q", ErrInvalidField, p.Field)
		}
		args = append(args, p.Field, p.Value)
		fmt.Fprintf(&sb, " AND data->>$%d = $%d", len(args)-1, len(args))
	}
	sb.WriteString(" ORDER BY created_at, id")
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String(), args, nil
}
