// Package memstore keeps notifications and reference data in memory.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
	"github.com/roboricindustries/raycon-dispatch/pkg/store"
)

type key struct{ org, id string }

type Store struct {
	mu            sync.RWMutex
	notifications map[key]alerts.Notification
	endpoints     map[key]alerts.Endpoint
	targets       map[key]alerts.Target
	categories    map[key]alerts.Category
	saves         int
}

func New() *Store {
	return &Store{
		notifications: make(map[key]alerts.Notification),
		endpoints:     make(map[key]alerts.Endpoint),
		targets:       make(map[key]alerts.Target),
		categories:    make(map[key]alerts.Category),
	}
}

func (s *Store) Save(_ context.Context, n alerts.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[key{n.OrganizationID, n.ID}] = n.Clone()
	s.saves++
	return nil
}

func (s *Store) Load(_ context.Context, orgID, id string) (alerts.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[key{orgID, id}]
	if !ok {
		return alerts.Notification{}, store.ErrNotFound
	}
	return n.Clone(), nil
}

// Saves counts Save calls.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *Store) PutEndpoint(e alerts.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[key{e.OrganizationID, e.ID}] = e
}

func (s *Store) PutTarget(t alerts.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[key{t.OrganizationID, t.ID}] = t
}

func (s *Store) PutCategory(c alerts.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[key{c.OrganizationID, c.ID}] = c
}

func (s *Store) FindEndpoints(_ context.Context, categoryIDs []string, orgID string) ([]alerts.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alerts.Endpoint
	for k, e := range s.endpoints {
		if k.org != orgID || !e.IsActive || !e.Subscribes(categoryIDs) {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b alerts.Endpoint) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) Targets(_ context.Context, orgID string, ids []string) ([]alerts.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alerts.Target
	for _, id := range ids {
		if t, ok := s.targets[key{orgID, id}]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) Categories(_ context.Context, orgID string, ids []string) ([]alerts.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alerts.Category
	for _, id := range ids {
		if c, ok := s.categories[key{orgID, id}]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
