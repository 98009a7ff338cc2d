package uratap

import (
	"sync"

	"github.com/apex/log"
)

// Manager tracks the hooks installed through an Engine, keyed by the
// original function address.
//
// Install must not be called twice for the same address: the table keeps only
// the newest trampoline while the engine may hold both entries.
type Manager struct {
	engine Engine
	log    log.Interface

	mu    sync.RWMutex
	table map[OriginalFunc]*HookRecord
}

// NewManager returns a manager driving engine.
func NewManager(engine Engine, logger log.Interface) *Manager {
	if logger == nil {
		logger = log.Log
	}
	return &Manager{
		engine: engine,
		log:    logger,
		table:  make(map[OriginalFunc]*HookRecord),
	}
}

// Install hooks original so that it jumps to replacement, enables the hook
// and returns the trampoline for calling the original implementation.
func (m *Manager) Install(original OriginalFunc, replacement uintptr) (Trampoline, error) {
	tramp, err := m.engine.Create(original, replacement)
	if err != nil {
		return 0, engineError("create", original, err)
	}
	// record first: the detour may run before Enable returns
	m.mu.Lock()
	m.table[original] = &HookRecord{Original: original, Trampoline: tramp}
	m.mu.Unlock()

	if err := m.engine.Enable(original); err != nil {
		m.mu.Lock()
		delete(m.table, original)
		m.mu.Unlock()
		if rerr := m.engine.Remove(original); rerr != nil {
			m.log.WithError(rerr).WithField("target", original).Warn("failed to discard hook after enable failure")
		}
		return 0, engineError("enable", original, err)
	}
	m.log.WithFields(log.Fields{
		"target":     original,
		"trampoline": tramp,
	}).Debug("hook installed")
	return tramp, nil
}

// TrampolineFor returns the trampoline recorded for original.
func (m *Manager) TrampolineFor(original OriginalFunc) (Trampoline, error) {
	m.mu.RLock()
	rec, ok := m.table[original]
	m.mu.RUnlock()
	if !ok {
		return 0, ErrHookNotFound
	}
	return rec.Trampoline, nil
}

// Hooks returns a snapshot of the active hooks.
func (m *Manager) Hooks() []HookRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]HookRecord, 0, len(m.table))
	for _, rec := range m.table {
		out = append(out, *rec)
	}
	return out
}

// RemoveAll disables and removes every hook. Failures are logged and do not
// stop the remaining entries from being torn down.
//
// The table lock is not held while the engine works. Every hook is disabled
// before any is removed, so a detour already running keeps finding its
// trampoline until the patches are gone. An entry leaves the table before its
// trampoline is freed.
func (m *Manager) RemoveAll() {
	m.mu.RLock()
	targets := make([]OriginalFunc, 0, len(m.table))
	for addr := range m.table {
		targets = append(targets, addr)
	}
	m.mu.RUnlock()

	for _, addr := range targets {
		if err := m.engine.Disable(addr); err != nil {
			m.log.WithField("target", addr).WithError(engineError("disable", addr, err)).Error("failed to disable hook")
		}
	}
	for _, addr := range targets {
		m.mu.Lock()
		delete(m.table, addr)
		m.mu.Unlock()
		if err := m.engine.Remove(addr); err != nil {
			m.log.WithField("target", addr).WithError(engineError("remove", addr, err)).Error("failed to remove hook")
		}
	}
}
