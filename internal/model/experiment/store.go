package experiment

import (
	"errors"
	"fmt"
)

// Store exposes study conditions to HTTP handlers.
type Store interface {
	List() []Condition
	FindByID(id string) (Condition, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Condition
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied conditions.
func NewMemoryStore(items []Condition) *MemoryStore {
	return &MemoryStore{items: append([]Condition(nil), items...)}
}

// List returns the configured conditions in declaration order.
func (s *MemoryStore) List() []Condition {
	return append([]Condition(nil), s.items...)
}

// FindByID looks up a condition by identifier.
func (s *MemoryStore) FindByID(id string) (Condition, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Condition{}, false
}

// ErrConditionNotFound is returned when a condition id is not configured.
var ErrConditionNotFound = errors.New("condition not found")

// Resolve returns the config of conditionID, or explicit when no id is given.
func Resolve(store Store, conditionID string, explicit Config) (Config, error) {
	if conditionID == "" {
		return explicit, nil
	}
	condition, ok := store.FindByID(conditionID)
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrConditionNotFound, conditionID)
	}
	return condition.Config, nil
}
