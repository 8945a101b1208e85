package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"ai-market-analyst/internal/llm"
	"ai-market-analyst/internal/shared"
)

// DefaultMaxChars bounds the text sent to the embedding model.
const DefaultMaxChars = 9000

// MetaTimestamp is the metadata key every document carries.
const MetaTimestamp = "timestamp"

// Match is one similarity search result.
type Match struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float64
}

// Store is the memory of one (subject, role) pair. A Store without a backend
// or embedder is disabled: writes are dropped and queries return nothing.
type Store struct {
	name     string
	subject  string
	role     string
	repo     Backend
	embedder llm.EmbeddingGenerator
	maxChars int
	now      func() time.Time

	mu       sync.Mutex
	lastNano int64
}

// Name is the namespace this store reads and writes.
func (s *Store) Name() string { return s.name }

// Subject returns the raw subject the store was opened for.
func (s *Store) Subject() string { return s.subject }

// Role returns the agent role of the store.
func (s *Store) Role() string { return s.role }

// Enabled reports whether the store can persist and search.
func (s *Store) Enabled() bool { return s.repo != nil && s.embedder != nil }

func truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}

// AddSituations embeds and stores each text. metas[i], when present, is the
// metadata for texts[i]; a timestamp is added when missing. Every insert is
// independent: a failure is collected and the remaining texts are still
// stored. It returns how many documents were written.
func (s *Store) AddSituations(ctx context.Context, texts []string, metas []map[string]string) (int, error) {
	if !s.Enabled() || len(texts) == 0 {
		return 0, nil
	}
	if err := s.repo.EnsureCollection(ctx, s.name, s.subject, s.role); err != nil {
		return 0, err
	}

	now := s.now()
	stamp := s.nextStamp(now)
	var (
		added int
		errs  []error
	)
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			errs = append(errs, &shared.ValidationError{Field: fmt.Sprintf("situation %d", i), Reason: "empty text"})
			continue
		}
		text = truncate(text, s.maxChars)

		emb, err := s.embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			errs = append(errs, fmt.Errorf("situation %d: %w", i, err))
			continue
		}
		if len(emb) == 0 {
			errs = append(errs, &shared.ValidationError{Field: fmt.Sprintf("situation %d", i), Reason: "empty embedding"})
			continue
		}

		meta := map[string]string{}
		if i < len(metas) {
			for k, v := range metas[i] {
				meta[k] = v
			}
		}
		if _, ok := meta[MetaTimestamp]; !ok {
			meta[MetaTimestamp] = now.UTC().Format(time.RFC3339)
		}

		doc := Document{
			ID:        fmt.Sprintf("%d_%d", stamp, i),
			Content:   text,
			Metadata:  meta,
			Embedding: emb,
			CreatedAt: now,
		}
		err = s.repo.Insert(ctx, s.name, doc)
		if errors.Is(err, ErrCollectionNotFound) {
			// Deleted underneath us; recreate once.
			if err = s.repo.EnsureCollection(ctx, s.name, s.subject, s.role); err == nil {
				err = s.repo.Insert(ctx, s.name, doc)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("situation %d: %w", i, err))
			continue
		}
		added++
	}

	log.Printf("[memory] %s: stored %d/%d situations", s.name, added, len(texts))
	return added, errors.Join(errs...)
}

// QuerySimilarSituations returns up to n documents nearest to query by
// cosine similarity, restricted to those whose metadata equals every entry
// of filter. A disabled, missing or empty namespace yields no results and no
// error; only exhausted throttling is returned to the caller.
func (s *Store) QuerySimilarSituations(ctx context.Context, query string, n int, filter map[string]string) ([]Match, error) {
	if !s.Enabled() || n <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	docs, err := s.repo.Documents(ctx, s.name)
	if err != nil {
		if !errors.Is(err, ErrCollectionNotFound) {
			log.Printf("[memory] %s: listing failed: %v", s.name, err)
		}
		return nil, nil
	}
	if len(docs) == 0 {
		return nil, nil
	}

	qv, err := s.embedder.GenerateEmbedding(ctx, truncate(query, s.maxChars))
	if err != nil {
		if shared.IsThrottling(err) {
			return nil, err
		}
		log.Printf("[memory] %s: query embedding failed: %v", s.name, err)
		return nil, nil
	}
	if len(qv) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(docs))
	for _, d := range docs {
		if !matchesFilter(d.Metadata, filter) {
			continue
		}
		matches = append(matches, Match{
			ID:         d.ID,
			Content:    d.Content,
			Metadata:   d.Metadata,
			Similarity: cosineSimilarity(qv, d.Embedding),
		})
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

// nextStamp returns a strictly increasing id prefix, so two batches written
// within the same clock tick cannot overwrite each other.
func (s *Store) nextStamp(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := now.UnixNano()
	if n <= s.lastNano {
		n = s.lastNano + 1
	}
	s.lastNano = n
	return n
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// RelevantMemory formats the closest past situations for inclusion in a
// prompt. It always returns usable text, including when nothing matched.
func (s *Store) RelevantMemory(ctx context.Context, situation string, n int) (string, error) {
	matches, err := s.QuerySimilarSituations(ctx, situation, n, nil)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No relevant memory found for %s (%s).", s.subject, s.role), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Relevant past analyses for %s (%s):\n", s.subject, s.role)
	for i, m := range matches {
		fmt.Fprintf(&b, "\n%d. [similarity %.1f%%]", i+1, m.Similarity*100)
		if ts := m.Metadata[MetaTimestamp]; ts != "" {
			fmt.Fprintf(&b, " %s", ts)
		}
		fmt.Fprintf(&b, "\n%s\n", m.Content)
	}
	return b.String(), nil
}

// ClearOldMemories removes documents whose timestamp is older than
// daysToKeep days. Zero drops the whole namespace. A namespace that is
// already gone counts as nothing to delete.
func (s *Store) ClearOldMemories(ctx context.Context, daysToKeep int) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	if daysToKeep < 0 {
		return 0, &shared.ValidationError{Field: "daysToKeep", Reason: "must not be negative"}
	}

	if daysToKeep == 0 {
		n, err := s.repo.DeleteCollection(ctx, s.name)
		if errors.Is(err, ErrCollectionNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		log.Printf("[memory] %s: dropped namespace with %d documents", s.name, n)
		return n, nil
	}

	docs, err := s.repo.Documents(ctx, s.name)
	if errors.Is(err, ErrCollectionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := s.now().AddDate(0, 0, -daysToKeep)
	var stale []string
	for _, d := range docs {
		ts, err := time.Parse(time.RFC3339, d.Metadata[MetaTimestamp])
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			stale = append(stale, d.ID)
		}
	}

	n, err := s.repo.DeleteDocuments(ctx, s.name, stale)
	if errors.Is(err, ErrCollectionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[memory] %s: pruned %d documents older than %d days", s.name, n, daysToKeep)
	}
	return n, nil
}

// Count returns the number of documents in the namespace.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	n, err := s.repo.Count(ctx, s.name)
	if errors.Is(err, ErrCollectionNotFound) {
		return 0, nil
	}
	return n, err
}
