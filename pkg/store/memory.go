package store

import (
	"context"
	"sync"
	"time"

	"github.com/datasphere-labs/connector/pkg/contracts"
)

// Memory is an in-process store for tests and single-node deployments.
type Memory struct {
	mu         sync.RWMutex
	rules      map[string]*contracts.Rule
	agreements map[string]*contracts.Agreement
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rules:      make(map[string]*contracts.Rule),
		agreements: make(map[string]*contracts.Agreement),
	}
}

func (m *Memory) LoadRule(_ context.Context, id string) (*contracts.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok || r.Status != contracts.RuleActive {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) SaveRule(_ context.Context, rule *contracts.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *Memory) SupersedeRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = contracts.RuleSuperseded
	return nil
}

func (m *Memory) SaveAgreement(_ context.Context, a *contracts.Agreement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.agreements[a.ID] = &cp
	return nil
}

func (m *Memory) ConfirmAgreement(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	if !ok {
		return ErrNotFound
	}
	if a.Confirmed {
		return ErrAlreadyConfirmed
	}
	a.Confirmed = true
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) GetAgreement(_ context.Context, id string) (*contracts.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agreements[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}
