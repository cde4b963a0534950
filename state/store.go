// Package state holds the process-wide annotation record store. Records are
// only changed through the four reducer actions.
package state

import (
	"sort"
	"sync"

	"github.com/camden-git/scamqc/models"
)

// ActionType names one of the reducer operations
type ActionType string

const (
	ActionAdd        ActionType = "ADD"
	ActionUpdate     ActionType = "UPDATE"
	ActionUpdateMany ActionType = "UPDATE_MANY"
	ActionReset      ActionType = "RESET"
)

// Action is a single store mutation
type Action struct {
	Type   ActionType
	ID     string
	IDs    []string
	Record models.AnnotationRecord
	Patch  models.RecordPatch
}

func Add(id string, rec models.AnnotationRecord) Action {
	return Action{Type: ActionAdd, ID: id, Record: rec}
}

func Update(id string, patch models.RecordPatch) Action {
	return Action{Type: ActionUpdate, ID: id, Patch: patch}
}

func UpdateMany(ids []string, patch models.RecordPatch) Action {
	return Action{Type: ActionUpdateMany, IDs: ids, Patch: patch}
}

func Reset() Action {
	return Action{Type: ActionReset}
}

// Reduce applies one action to the record map. Each branch only reads the
// entry of the id it targets.
func Reduce(records map[string]models.AnnotationRecord, a Action) map[string]models.AnnotationRecord {
	switch a.Type {
	case ActionAdd:
		records[a.ID] = a.Record.Clone()
	case ActionUpdate:
		records[a.ID] = a.Patch.Apply(records[a.ID])
	case ActionUpdateMany:
		for _, id := range a.IDs {
			records[id] = a.Patch.Apply(records[id])
		}
	case ActionReset:
		return make(map[string]models.AnnotationRecord)
	}
	return records
}

// Listener is notified after every dispatched action
type Listener func(a Action)

// Store is the single writer of "what the user currently sees".
type Store struct {
	mu        sync.RWMutex
	records   map[string]models.AnnotationRecord
	listeners []Listener
}

func NewStore() *Store {
	return &Store{records: make(map[string]models.AnnotationRecord)}
}

// Subscribe registers a listener. Listeners run outside the store lock.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Dispatch applies an action
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	s.records = Reduce(s.records, a)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(a)
	}
}

// Get returns a copy of the record for id
func (s *Store) Get(id string) (models.AnnotationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return models.AnnotationRecord{}, false
	}
	return rec.Clone(), true
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a deep copy of every record
func (s *Store) Snapshot() map[string]models.AnnotationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.AnnotationRecord, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.Clone()
	}
	return out
}

// IDs returns the record keys in sorted order
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CountByState scans the store and counts records per lifecycle state
func (s *Store) CountByState() map[models.RecordState]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.RecordState]int)
	for _, rec := range s.records {
		counts[rec.State]++
	}
	return counts
}
