package bridge

import (
	"html/template"
	"sort"
	"strings"
	"sync"
	"time"
)

// Mounts is the set of named UI mount points buttons can be rendered into.
type Mounts struct {
	mu   sync.RWMutex
	byID map[string]*Mount
}

// Mount holds the markup last rendered into it.
type Mount struct {
	ID string

	mu       sync.RWMutex
	html     template.HTML
	rendered time.Time
}

// NewMounts registers the given container ids.
func NewMounts(ids ...string) *Mounts {
	m := &Mounts{byID: make(map[string]*Mount)}
	for _, id := range ids {
		m.Register(id)
	}
	return m
}

// Register adds a mount point, returning the existing one if present.
func (m *Mounts) Register(id string) *Mount {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt, ok := m.byID[id]; ok {
		return mt
	}
	mt := &Mount{ID: id}
	m.byID[id] = mt
	return mt
}

// Lookup finds a mount point by id.
func (m *Mounts) Lookup(id string) (*Mount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.byID[id]
	return mt, ok
}

// IDs lists registered mount points in order.
func (m *Mounts) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byID))
	for id := range m.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (mt *Mount) set(html template.HTML, at time.Time) {
	mt.mu.Lock()
	mt.html = html
	mt.rendered = at
	mt.mu.Unlock()
}

// Fragment returns the rendered markup, if anything was rendered.
func (mt *Mount) Fragment() (template.HTML, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.html, !mt.rendered.IsZero()
}
