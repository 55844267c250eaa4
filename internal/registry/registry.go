// Package registry keeps the in-memory conference roster, keyed by
// participant address. It is a plain keyed store: no network, no I/O,
// mutated only from the stanza-dispatch path.
package registry

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/venrik/meetwire/internal/domain"
)

type Registry struct {
	mu           sync.RWMutex
	participants map[domain.Address]domain.Participant
}

func New() *Registry {
	return &Registry{
		participants: make(map[domain.Address]domain.Participant),
	}
}

// Upsert inserts or replaces the participant by address and reports whether
// the entry is new. New-vs-updated drives the joined/updated event choice.
func (r *Registry) Upsert(p domain.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.participants[p.Address]
	r.participants[p.Address] = p
	if !exists {
		log.Debug().Str("module", "registry").Str("address", string(p.Address)).Str("display_name", p.DisplayName).Msg("participant added")
	}
	return !exists
}

// Remove deletes the participant and reports whether it was present.
func (r *Registry) Remove(address domain.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.participants[address]
	if exists {
		delete(r.participants, address)
		log.Debug().Str("module", "registry").Str("address", string(address)).Msg("participant removed")
	}
	return exists
}

// Get returns a copy of the participant, if present.
func (r *Registry) Get(address domain.Address) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[address]
	return p, ok
}

// Snapshot returns a copy of the roster, ordered by address so callers get
// a stable view.
func (r *Registry) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Clear empties the roster, on room leave or connection reset.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = make(map[domain.Address]domain.Participant)
}
