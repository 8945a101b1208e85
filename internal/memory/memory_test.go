package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-market-analyst/internal/database"
	"ai-market-analyst/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordEmbedder is a deterministic bag-of-words embedder.
type wordEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error
}

func (e *wordEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	for marker, err := range e.fail {
		if strings.Contains(text, marker) {
			return nil, err
		}
	}
	vec := make([]float32, 32)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%32]++
	}
	return vec, nil
}

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteRepository(db.SQL)
}

func newTestManager(t *testing.T, emb *wordEmbedder, opts ...Option) (*Manager, *SQLiteRepository) {
	t.Helper()
	repo := newTestRepo(t)
	return NewManager(repo, emb, nil, opts...), repo
}

func TestCollectionName(t *testing.T) {
	tests := []struct {
		subject, role, want string
	}{
		{"AAPL", RoleBull, "AAPL_bull_memory"},
		{" aapl ", RoleBear, "AAPL_bear_memory"},
		{"NOVN_SW", RoleTrader, "NOVN_SW_trader_memory"},
	}
	for _, tt := range tests {
		got, err := CollectionName(tt.subject, tt.role)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	// Punctuated and long subjects are hashed, never collide, and fit the limit.
	subjects := []string{"BRK.B", "BRK-B", "^GSPC", "", "0700.HK", strings.Repeat("VERYLONGTICKER", 10)}
	seen := map[string]string{}
	for _, s := range subjects {
		for _, role := range Roles {
			name, err := CollectionName(s, role)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(name), maxCollectionName, name)
			first := rune(name[0])
			assert.True(t, isAlnum(first), "name %q must start alphanumeric", name)
			for _, r := range name {
				assert.True(t, isAlnum(r) || r == '_', "name %q has invalid rune %q", name, r)
			}
			if prev, dup := seen[name]; dup {
				t.Errorf("subjects %q and %q collide on %s", prev, s, name)
			}
			seen[name] = s
		}
	}

	for _, bad := range []string{"", "risk-manager", "a_very_long_role_name"} {
		_, err := CollectionName("AAPL", bad)
		assert.Error(t, err, bad)
	}
}

func TestStore_AddAndQuery(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{}
	m, _ := newTestManager(t, emb)

	s, err := m.Store("AAPL", RoleBull)
	require.NoError(t, err)

	added, err := s.AddSituations(ctx, []string{
		"apple earnings beat expectations on iphone demand",
		"oil prices fell sharply after opec meeting",
		"central bank rates rising again",
	}, []map[string]string{{"sector": "tech"}, {"sector": "energy"}})
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	matches, err := s.QuerySimilarSituations(ctx, "apple earnings beat", 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Contains(t, matches[0].Content, "apple earnings")
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
	assert.NotEmpty(t, matches[0].Metadata[MetaTimestamp])

	filtered, err := s.QuerySimilarSituations(ctx, "apple earnings beat", 5, map[string]string{"sector": "energy"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Contains(t, filtered[0].Content, "oil prices")

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStore_TruncatesLongText(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &wordEmbedder{}, WithMaxChars(10))
	s, err := m.Store("MSFT", RoleBear)
	require.NoError(t, err)

	_, err = s.AddSituations(ctx, []string{strings.Repeat("x", 50)}, nil)
	require.NoError(t, err)

	matches, err := s.QuerySimilarSituations(ctx, "xxxxxxxxxx", 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Len(t, matches[0].Content, 10)
}

func TestStore_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &wordEmbedder{})

	for _, sizes := range [][2]int{{0, 3}, {2, 0}, {3, 4}} {
		t.Run(fmt.Sprintf("A%d_B%d", sizes[0], sizes[1]), func(t *testing.T) {
			subjectA := fmt.Sprintf("ISOA%d%d", sizes[0], sizes[1])
			subjectB := fmt.Sprintf("ISOB%d%d", sizes[0], sizes[1])
			a, err := m.Store(subjectA, RoleTrader)
			require.NoError(t, err)
			b, err := m.Store(subjectB, RoleTrader)
			require.NoError(t, err)

			texts := func(prefix string, n int) []string {
				out := make([]string, n)
				for i := range out {
					out[i] = fmt.Sprintf("%s shared market words %d", prefix, i)
				}
				return out
			}
			_, err = a.AddSituations(ctx, texts("alpha", sizes[0]), nil)
			require.NoError(t, err)
			_, err = b.AddSituations(ctx, texts("beta", sizes[1]), nil)
			require.NoError(t, err)

			got, err := a.QuerySimilarSituations(ctx, "shared market words", 100, nil)
			require.NoError(t, err)
			assert.Len(t, got, sizes[0])
			for _, match := range got {
				assert.True(t, strings.HasPrefix(match.Content, "alpha"), "namespace A leaked %q", match.Content)
			}
		})
	}
}

func TestStore_ClearAllMemories(t *testing.T) {
	ctx := context.Background()
	m, repo := newTestManager(t, &wordEmbedder{})
	s, err := m.Store("TSLA", RoleRiskManager)
	require.NoError(t, err)

	_, err = s.AddSituations(ctx, []string{"deliveries missed", "margin pressure", "new factory"}, nil)
	require.NoError(t, err)

	removed, err := s.ClearOldMemories(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = repo.Count(ctx, s.Name())
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	matches, err := s.QuerySimilarSituations(ctx, "deliveries", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// Already gone is not an error.
	removed, err = s.ClearOldMemories(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStore_ClearOldMemoriesByAge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, &wordEmbedder{}, WithClock(func() time.Time { return now }))
	s, err := m.Store("NVDA", RoleInvestJudge)
	require.NoError(t, err)

	old := now.AddDate(0, 0, -45).Format(time.RFC3339)
	recent := now.AddDate(0, 0, -2).Format(time.RFC3339)
	_, err = s.AddSituations(ctx,
		[]string{"old guidance cut", "recent data center boom", "no timestamp override"},
		[]map[string]string{{MetaTimestamp: old}, {MetaTimestamp: recent}})
	require.NoError(t, err)

	removed, err := s.ClearOldMemories(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = s.ClearOldMemories(ctx, -1)
	assert.True(t, shared.IsValidation(err))
}

// vanishingBackend deletes the collection right after it is listed, the way
// a concurrent process would.
type vanishingBackend struct {
	*SQLiteRepository
}

func (v vanishingBackend) Documents(ctx context.Context, collection string) ([]Document, error) {
	docs, err := v.SQLiteRepository.Documents(ctx, collection)
	if err == nil {
		_, _ = v.SQLiteRepository.DeleteCollection(ctx, collection)
	}
	return docs, err
}

func TestStore_ClearOldMemoriesNamespaceDeletedConcurrently(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	m := NewManager(vanishingBackend{repo}, &wordEmbedder{}, nil)
	s, err := m.Store("AMZN", RoleBull)
	require.NoError(t, err)

	old := time.Now().AddDate(0, 0, -90).Format(time.RFC3339)
	_, err = s.AddSituations(ctx, []string{"aws slowdown"}, []map[string]string{{MetaTimestamp: old}})
	require.NoError(t, err)

	removed, err := s.ClearOldMemories(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStore_PartialFailureKeepsOtherDocuments(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{fail: map[string]error{"poison": errors.New("embedding backend error")}}
	m, _ := newTestManager(t, emb)
	s, err := m.Store("META", RoleBear)
	require.NoError(t, err)

	added, err := s.AddSituations(ctx, []string{"ad revenue strong", "poison pill text", "", "reality labs losses"}, nil)
	require.Error(t, err)
	assert.Equal(t, 2, added)
	assert.True(t, shared.IsValidation(err), "empty text should be reported as validation")

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_QueryPropagatesOnlyThrottling(t *testing.T) {
	ctx := context.Background()
	emb := &wordEmbedder{}
	m, _ := newTestManager(t, emb)
	s, err := m.Store("GOOG", RoleTrader)
	require.NoError(t, err)
	_, err = s.AddSituations(ctx, []string{"search share stable"}, nil)
	require.NoError(t, err)

	emb.fail = map[string]error{"broken": errors.New("bad request")}
	matches, err := s.QuerySimilarSituations(ctx, "broken query", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)

	emb.fail = map[string]error{"throttled": &shared.ThrottlingError{Provider: "gemini"}}
	_, err = s.QuerySimilarSituations(ctx, "throttled query", 3, nil)
	assert.True(t, shared.IsThrottling(err))
}

func TestStore_RelevantMemory(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &wordEmbedder{})

	text, err := m.RelevantMemory(ctx, "NFLX", RoleBull, "subscriber growth", 2)
	require.NoError(t, err)
	assert.Equal(t, "No relevant memory found for NFLX (bull).", text)

	s, err := m.Store("NFLX", RoleBull)
	require.NoError(t, err)
	_, err = s.AddSituations(ctx, []string{"subscriber growth accelerated"}, nil)
	require.NoError(t, err)

	text, err = s.RelevantMemory(ctx, "subscriber growth", 2)
	require.NoError(t, err)
	assert.Contains(t, text, "Relevant past analyses for NFLX (bull)")
	assert.Contains(t, text, "similarity")
	assert.Contains(t, text, "subscriber growth accelerated")
}

func TestStore_Disabled(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, nil)
	assert.False(t, m.Enabled())

	s, err := m.Store("AAPL", RoleBull)
	require.NoError(t, err)
	added, err := s.AddSituations(ctx, []string{"anything"}, nil)
	require.NoError(t, err)
	assert.Zero(t, added)

	matches, err := s.QuerySimilarSituations(ctx, "anything", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)

	removed, err := s.ClearOldMemories(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalDocuments)
}

func TestManager_StatsAndCleanup(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &wordEmbedder{})

	add := func(subject, role string, n int) {
		s, err := m.Store(subject, role)
		require.NoError(t, err)
		texts := make([]string, n)
		for i := range texts {
			texts[i] = fmt.Sprintf("%s %s note %d", subject, role, i)
		}
		_, err = s.AddSituations(ctx, texts, nil)
		require.NoError(t, err)
	}
	add("AAPL", RoleBull, 2)
	add("AAPL", RoleBear, 1)
	add("IBM", RoleTrader, 3)

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Collections, 3)
	assert.Equal(t, 6, st.TotalDocuments)

	removed, err := m.DeleteSubject(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	removed, err = m.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	st, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Collections)
}

func TestManager_DeleteSubjectKeepsPrefixedSubjects(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &wordEmbedder{})

	stores := map[string]*Store{}
	for _, subject := range []string{"BRK", "BRK.B", "BRK_B"} {
		s, err := m.Store(subject, RoleBull)
		require.NoError(t, err)
		_, err = s.AddSituations(ctx, []string{subject + " buyback announced"}, nil)
		require.NoError(t, err)
		stores[subject] = s
	}

	removed, err := m.DeleteSubject(ctx, "brk")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	for _, subject := range []string{"BRK.B", "BRK_B"} {
		n, err := stores[subject].Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n, subject)
	}
	n, err := stores["BRK"].Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &wordEmbedder{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Store("AAPL", Roles[i%len(Roles)])
			assert.NoError(t, err)
			_, err = s.AddSituations(ctx, []string{fmt.Sprintf("writer %d situation", i)}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, st.TotalDocuments)
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)

	assert.InDelta(t, 1.0, cosineSimilarity(in, in), 1e-9)
	assert.Zero(t, cosineSimilarity(in, []float32{1}))
}
