package anomaly

import (
	"sort"
	"sync"
	"sync/atomic"
)

// slot holds the current model of one sensor. The pointer is swapped, the
// model behind it never changes.
type slot struct {
	model atomic.Pointer[modelRef]
}

type modelRef struct {
	BaselineModel
}

// Registry maps sensor IDs to their current baseline. Readers never block
// writers: Current returns whatever model was installed at the time of the
// call, and a concurrent Swap does not affect a model already handed out.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*slot)}
}

// Current returns the sensor's model, or nil when none has been trained.
func (r *Registry) Current(sensorID string) BaselineModel {
	r.mu.RLock()
	s, ok := r.slots[sensorID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	ref := s.model.Load()
	if ref == nil {
		return nil
	}
	return ref.BaselineModel
}

// Swap installs model for sensorID and returns the previous one (nil if
// none). A nil model clears the slot. The store happens under the map lock
// so a concurrent Remove either precedes it or drops the new model, never a
// slot that is no longer in the map.
func (r *Registry) Swap(sensorID string, model BaselineModel) BaselineModel {
	var next *modelRef
	if model != nil {
		next = &modelRef{model}
	}

	r.mu.RLock()
	if s, ok := r.slots[sensorID]; ok {
		prev := s.model.Swap(next)
		r.mu.RUnlock()
		return unwrap(prev)
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[sensorID]
	if !ok {
		s = &slot{}
		r.slots[sensorID] = s
	}
	return unwrap(s.model.Swap(next))
}

// Remove drops the sensor's slot.
func (r *Registry) Remove(sensorID string) {
	r.mu.Lock()
	delete(r.slots, sensorID)
	r.mu.Unlock()
}

// Sensors lists sensor IDs with a model installed, sorted.
func (r *Registry) Sensors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.slots))
	for id, s := range r.slots {
		if s.model.Load() != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func unwrap(ref *modelRef) BaselineModel {
	if ref == nil {
		return nil
	}
	return ref.BaselineModel
}
