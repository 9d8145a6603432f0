package reports

import (
	"context"
	"errors"
	"sync"

	"github.com/queue-status/backend/internal/models"
	"github.com/queue-status/backend/internal/store"
	"github.com/queue-status/backend/pkg/queue"
)

type memStore struct {
	docs map[string][]models.Document
	err  error
}

func (m *memStore) add(collection string, d models.Document) {
	if m.docs == nil {
		m.docs = map[string][]models.Document{}
	}
	m.docs[collection] = append(m.docs[collection], d)
}

func (m *memStore) Get(_ context.Context, collection, id string) (*models.Document, error) {
	for _, d := range m.docs[collection] {
		if d.ID == id {
			d := d
			return &d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) QueryCollection(_ context.Context, collection string, preds []store.Predicate, _ int) ([]models.Document, error) {
	if m.err != nil && collection != models.CollectionQueues {
		return nil, m.err
	}
	var out []models.Document
	for _, d := range m.docs[collection] {
		ok := true
		for _, p := range preds {
			if d.String(p.Field) != p.Value {
				ok = false
			}
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func doc(id string, kv ...interface{}) models.Document {
	data := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i].(string)] = kv[i+1]
	}
	return models.Document{ID: id, Data: data}
}

// sampleStore holds queue q1 with one valid and two failing tokens, plus two
// other queues for listing.
func sampleStore() *memStore {
	m := &memStore{}
	m.add(models.CollectionQueues, doc("q1", "queuename", "Spring Cohort", "queueenddate", "2026-03-01T00:00:00Z"))
	m.add(models.CollectionQueues, doc("q2", "name", "Legacy Queue"))
	m.add(models.CollectionQueues, doc("q3", "queuename", "Autumn Cohort", "queueenddate", "2026-09-01T00:00:00Z"))

	m.add(models.CollectionTokens, doc("t1", "queueref", "q1", "profile_name", "Asha", "productname", "Pitch", "participantproductid", "pp1", "currentstage", "Completed", "tokenstatus", "Active"))
	m.add(models.CollectionTokens, doc("t2", "queueref", "q1", "profile_name", "Ben", "productname", "Demo", "currentstage", "Pending", "tokenstatus", "Active"))
	m.add(models.CollectionTokens, doc("t3", "queueref", "q1", "profile_name", "Chen", "productname", "Pitch", "participantproductid", "pp3", "currentstage", "Pending", "tokenstatus", "Inactive"))
	m.add(models.CollectionTokens, doc("tx", "queueref", "q3", "profile_name", "Other"))

	m.add(models.CollectionParticipantProducts, doc("pp1", "eventref", "q1", "status", "completed", "mode", "Integration Mode", "eventparticipationid", "ep1"))
	m.add(models.CollectionParticipantProducts, doc("pp3", "eventref", "q1", "status", "ongoing", "mode", "Event Mode"))

	m.add(models.CollectionEventParticipations, doc("ep1", "status", "approved"))
	return m
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.ReportExportPayload
	err  error
}

func (f *fakeQueue) EnqueueReportExport(_ context.Context, p queue.ReportExportPayload) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.jobs = append(f.jobs, p)
	return &queue.Job{ID: "job-" + p.ExportID, Type: queue.JobTypeReportExport}, nil
}

type memStatuses struct {
	mu sync.Mutex
	m  map[string]ExportStatus
}

func newMemStatuses() *memStatuses { return &memStatuses{m: map[string]ExportStatus{}} }

func (s *memStatuses) Save(_ context.Context, st ExportStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[st.ID] = st
	return nil
}

func (s *memStatuses) Get(_ context.Context, id string) (*ExportStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[id]
	if !ok {
		return nil, ErrExportNotFound
	}
	return &st, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignedExportURL(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	return "https://signed.example/" + key, nil
}
