package store

import (
	"context"
	"sync"

	"photovault/pkg/domain"
)

type memCollection struct {
	records map[string]domain.Record
	order   []string
}

// MemoryStore keeps the three collections in-process.
type MemoryStore struct {
	mu    sync.RWMutex
	colls map[domain.Collection]*memCollection
	seed  AdminSeed
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore(seed AdminSeed) *MemoryStore {
	m := &MemoryStore{
		colls: make(map[domain.Collection]*memCollection, len(domain.Collections)),
		seed:  seed,
	}
	for _, c := range domain.Collections {
		m.colls[c] = &memCollection{records: make(map[string]domain.Record)}
	}
	return m
}

// GetAll returns records in insertion order.
func (m *MemoryStore) GetAll(_ context.Context, c domain.Collection) ([]domain.Record, error) {
	if err := validCollection(c); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll := m.colls[c]
	res := make([]domain.Record, 0, len(coll.order))
	for _, id := range coll.order {
		if rec, ok := coll.records[id]; ok {
			res = append(res, cloneRecord(rec))
		}
	}
	return res, nil
}

// BulkPut inserts or replaces each record; a replaced record keeps its position.
func (m *MemoryStore) BulkPut(ctx context.Context, c domain.Collection, records []domain.Record) error {
	if err := validCollection(c); err != nil {
		return err
	}
	var failures []RecordError
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			failures = append(failures, RecordError{Index: i, ID: recordID(rec), Err: err})
			continue
		}
		if err := checkRecord(c, rec); err != nil {
			failures = append(failures, RecordError{Index: i, ID: recordID(rec), Err: err})
			continue
		}
		m.put(c, rec)
	}
	if len(failures) > 0 {
		return &BulkPutError{Collection: c, Failures: failures}
	}
	return nil
}

func (m *MemoryStore) put(c domain.Collection, rec domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.colls[c]
	id := rec.RecordID()
	if _, exists := coll.records[id]; !exists {
		coll.order = append(coll.order, id)
	}
	coll.records[id] = cloneRecord(rec)
}

// Clear drops every record of the collection.
func (m *MemoryStore) Clear(_ context.Context, c domain.Collection) error {
	if err := validCollection(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.colls[c] = &memCollection{records: make(map[string]domain.Record)}
	return nil
}

// Delete removes the record and its slot in the insertion order.
func (m *MemoryStore) Delete(_ context.Context, c domain.Collection, id string) error {
	if err := validCollection(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.colls[c]
	if _, ok := coll.records[id]; !ok {
		return nil
	}
	delete(coll.records, id)
	for i, existing := range coll.order {
		if existing == id {
			coll.order = append(coll.order[:i:i], coll.order[i+1:]...)
			break
		}
	}
	return nil
}

// ResetDB clears all collections and reseeds the administrator.
func (m *MemoryStore) ResetDB(ctx context.Context) error {
	return resetDB(ctx, m, m.seed)
}

// EnsureAdminExists inserts the administrator when no admin user is present.
func (m *MemoryStore) EnsureAdminExists(ctx context.Context) error {
	return ensureAdmin(ctx, m, m.seed)
}

func cloneRecord(rec domain.Record) domain.Record {
	if p, ok := rec.(domain.Photo); ok {
		return p.Clone()
	}
	return rec
}

func recordID(rec domain.Record) string {
	if rec == nil {
		return ""
	}
	return rec.RecordID()
}
