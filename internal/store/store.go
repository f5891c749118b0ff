// Package store holds the in-memory campaign collection for the running
// process. It is rebuilt wholesale on refresh and mutated optimistically by
// the reconciliation controller; everything else only reads and subscribes.
package store

import (
	"errors"
	"sync"

	"github.com/foxzi/reviewdesk/internal/campaign"
)

// ErrNotFound is returned when a campaign id is not in the store
var ErrNotFound = errors.New("campaign not found")

// ChangeKind describes what happened to the store
type ChangeKind string

const (
	ChangeReplaced ChangeKind = "replaced"
	ChangeUpserted ChangeKind = "upserted"
	ChangeRemoved  ChangeKind = "removed"
	ChangeRekeyed  ChangeKind = "rekeyed"
)

// Change is delivered to subscribers after every mutation
type Change struct {
	Kind     ChangeKind         `json:"kind"`
	ID       string             `json:"id,omitempty"`
	OldID    string             `json:"old_id,omitempty"`
	Campaign *campaign.Campaign `json:"campaign,omitempty"`
	Count    int                `json:"count,omitempty"`
}

// Listener receives store changes. It runs synchronously after the write
// and must not call mutating store methods.
type Listener func(Change)

// Store is an id-indexed campaign collection plus the designer list
type Store struct {
	mu        sync.RWMutex
	campaigns map[string]campaign.Campaign
	order     []string
	designers []campaign.Designer

	lmu       sync.Mutex
	listeners map[int]Listener
	nextSub   int

	// serializes delivery so subscribers see changes in write order
	notifyMu sync.Mutex
}

// New creates an empty store
func New() *Store {
	return &Store{
		campaigns: make(map[string]campaign.Campaign),
		listeners: make(map[int]Listener),
	}
}

// Replace swaps the whole contents. Later duplicates of an id win their slot.
func (s *Store) Replace(campaigns []campaign.Campaign, designers []campaign.Designer) {
	s.mu.Lock()
	s.campaigns = make(map[string]campaign.Campaign, len(campaigns))
	s.order = make([]string, 0, len(campaigns))
	for _, c := range campaigns {
		if _, ok := s.campaigns[c.ID]; !ok {
			s.order = append(s.order, c.ID)
		}
		s.campaigns[c.ID] = c.Clone()
	}
	s.designers = append([]campaign.Designer(nil), designers...)
	n := len(s.order)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReplaced, Count: n})
}

// Put inserts or overwrites one campaign. New ids go to the front of the list.
func (s *Store) Put(c campaign.Campaign) {
	c = c.Clone()

	s.mu.Lock()
	if _, ok := s.campaigns[c.ID]; !ok {
		s.order = append([]string{c.ID}, s.order...)
	}
	s.campaigns[c.ID] = c
	s.mu.Unlock()

	out := c.Clone()
	s.notify(Change{Kind: ChangeUpserted, ID: c.ID, Campaign: &out})
}

// Get returns a copy of the campaign with the given id
func (s *Store) Get(id string) (campaign.Campaign, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return campaign.Campaign{}, false
	}
	return c.Clone(), true
}

// Remove deletes a campaign. It reports whether the id was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if _, ok := s.campaigns[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.campaigns, id)
	s.order = removeID(s.order, id)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRemoved, ID: id})
	return true
}

// Rekey moves a campaign from oldID to newID, keeping its list position.
// When newID is already present the authoritative record stays and the old
// entry is dropped.
func (s *Store) Rekey(oldID, newID string) error {
	if oldID == newID {
		return nil
	}

	s.mu.Lock()
	c, ok := s.campaigns[oldID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.campaigns, oldID)

	if existing, ok := s.campaigns[newID]; ok {
		s.order = removeID(s.order, oldID)
		c = existing
	} else {
		c.ID = newID
		s.campaigns[newID] = c
		for i, id := range s.order {
			if id == oldID {
				s.order[i] = newID
				break
			}
		}
	}
	s.mu.Unlock()

	out := c.Clone()
	s.notify(Change{Kind: ChangeRekeyed, ID: newID, OldID: oldID, Campaign: &out})
	return nil
}

// List returns all campaigns in display order
func (s *Store) List() []campaign.Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]campaign.Campaign, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.campaigns[id].Clone())
	}
	return out
}

// Designers returns the designer list
func (s *Store) Designers() []campaign.Designer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]campaign.Designer(nil), s.designers...)
}

// AddDesigner appends a designer unless one with the same email exists
func (s *Store) AddDesigner(d campaign.Designer) {
	s.mu.Lock()
	for _, existing := range s.designers {
		if existing.Email != "" && existing.Email == d.Email {
			s.mu.Unlock()
			return
		}
	}
	s.designers = append(s.designers, d)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUpserted, ID: d.ID})
}

// Len returns the number of campaigns
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.campaigns)
}

// Counts returns campaigns per status and the number of designers
func (s *Store) Counts() (map[string]int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStatus := make(map[string]int)
	for _, c := range s.campaigns {
		byStatus[string(c.Status)]++
	}
	return byStatus, len(s.designers)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Store) notify(ch Change) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.lmu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
