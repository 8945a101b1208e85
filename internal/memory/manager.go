package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ai-market-analyst/internal/llm"
)

// Manager hands out per-(subject, role) stores over one backend and offers
// introspection and cleanup across all namespaces.
type Manager struct {
	repo     Backend
	embedder llm.EmbeddingGenerator
	maxChars int
	now      func() time.Time

	mu     sync.Mutex
	stores map[string]*Store
}

// Option customizes a Manager.
type Option func(*Manager)

// WithMaxChars sets the truncation length for embedded text.
func WithMaxChars(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxChars = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a manager. When invoker is non-nil every embedding goes
// through it and therefore through the shared rate limiter. A nil repo or
// embedder yields disabled stores.
func NewManager(repo Backend, embedder llm.EmbeddingGenerator, invoker *llm.RetryInvoker, opts ...Option) *Manager {
	if embedder != nil && invoker != nil {
		embedder = llm.NewGuardedEmbeddingGenerator(embedder, invoker)
	}
	m := &Manager{
		repo:     repo,
		embedder: embedder,
		maxChars: DefaultMaxChars,
		now:      time.Now,
		stores:   make(map[string]*Store),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enabled reports whether stores from this manager persist anything.
func (m *Manager) Enabled() bool { return m.repo != nil && m.embedder != nil }

// Store returns the memory for a subject and role. The namespace itself is
// created lazily on the first write.
func (m *Manager) Store(subject, role string) (*Store, error) {
	name, err := CollectionName(subject, role)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	s := &Store{
		name:     name,
		subject:  strings.TrimSpace(subject),
		role:     strings.ToLower(strings.TrimSpace(role)),
		repo:     m.repo,
		embedder: m.embedder,
		maxChars: m.maxChars,
		now:      m.now,
	}
	m.stores[name] = s
	return s, nil
}

// RelevantMemory is a shortcut for Store(subject, role).RelevantMemory.
func (m *Manager) RelevantMemory(ctx context.Context, subject, role, situation string, n int) (string, error) {
	s, err := m.Store(subject, role)
	if err != nil {
		return "", err
	}
	return s.RelevantMemory(ctx, situation, n)
}

// Stats summarizes all namespaces.
type Stats struct {
	Collections    []CollectionInfo
	TotalDocuments int
}

// Stats lists every namespace with its document count.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	if m.repo == nil {
		return Stats{}, nil
	}
	cols, err := m.repo.Collections(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Collections: cols}
	for _, c := range cols {
		st.TotalDocuments += c.Count
	}
	return st, nil
}

// ClearAll drops every namespace and returns the number of documents removed.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	return m.dropWhere(ctx, func(CollectionInfo) bool { return true })
}

// DeleteSubject drops every role namespace of one subject. Namespaces are
// matched by their exact name, so subjects sharing a prefix (BRK, BRK.B) are
// left alone.
func (m *Manager) DeleteSubject(ctx context.Context, subject string) (int, error) {
	return m.dropWhere(ctx, func(c CollectionInfo) bool {
		name, err := CollectionName(subject, c.Role)
		return err == nil && name == c.Name
	})
}

func (m *Manager) dropWhere(ctx context.Context, keep func(CollectionInfo) bool) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	cols, err := m.repo.Collections(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, c := range cols {
		if !keep(c) {
			continue
		}
		n, err := m.repo.DeleteCollection(ctx, c.Name)
		if errors.Is(err, ErrCollectionNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

// PruneAll applies ClearOldMemories to every namespace.
func (m *Manager) PruneAll(ctx context.Context, daysToKeep int) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	if daysToKeep == 0 {
		return m.ClearAll(ctx)
	}
	cols, err := m.repo.Collections(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, c := range cols {
		s, err := m.Store(c.Subject, c.Role)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n, err := s.ClearOldMemories(ctx, daysToKeep)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}
