package recall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/embedding"
	"github.com/Saket-Kr/acms/episode"
	"github.com/Saket-Kr/acms/ingest"
	"github.com/Saket-Kr/acms/storage"
	"github.com/Saket-Kr/acms/tokencount"
)

type harness struct {
	store    storage.Storage
	embedder embedding.Embedder
	episodes *episode.Manager
	ingest   *ingest.Pipeline
	recall   *Pipeline
	config   *acms.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := acms.DefaultConfig()
	store := storage.NewMemoryStore()
	embedder := embedding.NewHashEmbedder(16)
	mgr := episode.New("s1", store, cfg.EpisodeBoundary, nil)
	ip := ingest.New("s1", store, embedder, tokencount.NewHeuristic(), mgr, cfg, nil)
	rp := New("s1", store, embedder, mgr, cfg, nil)
	return &harness{store: store, embedder: embedder, episodes: mgr, ingest: ip, recall: rp, config: cfg}
}

func TestRecallIncludesCurrentEpisodeChronologically(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ingest.Ingest(ctx, ingest.Input{Role: "user", Content: "first message"})
	require.NoError(t, err)
	_, err = h.ingest.Ingest(ctx, ingest.Input{Role: "assistant", Content: "second message"})
	require.NoError(t, err)

	items, err := h.recall.Recall(ctx, "message")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(items), 2)
	assert.Equal(t, acms.SourceTurn, items[0].Source)
	assert.Equal(t, 1.0, items[0].Score)
	assert.Equal(t, "first message", items[0].Content)
	assert.Equal(t, "second message", items[1].Content)
}

func TestRecallEmptyBudgetReturnsNoItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.ingest.Ingest(ctx, ingest.Input{Role: "user", Content: "hello"})
	require.NoError(t, err)

	items, err := h.recall.Recall(ctx, "hello", WithTokenBudget(0))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRecallRejectsEmptyQuery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.recall.Recall(ctx, "   ")
	assert.Error(t, err)
}

func TestRecallRejectsInvalidMinRelevance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.recall.Recall(ctx, "hello", WithMinRelevance(1.5))
	assert.Error(t, err)
}

func TestRecallIncludesMarkedTurnsFromPastEpisodes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ingest.Ingest(ctx, ingest.Input{Role: "user", Content: "constraint: must use go"})
	require.NoError(t, err)
	_, err = h.episodes.CloseCurrent(ctx, "manual")
	require.NoError(t, err)

	_, err = h.ingest.Ingest(ctx, ingest.Input{Role: "user", Content: "new topic entirely"})
	require.NoError(t, err)

	items, err := h.recall.Recall(ctx, "go constraint")
	require.NoError(t, err)

	var foundMarked bool
	for _, it := range items {
		if it.Content == "constraint: must use go" {
			foundMarked = true
		}
	}
	assert.True(t, foundMarked)
}

func TestRecallIncludesActiveFacts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	fact := &acms.Fact{
		ID:         "fact_1",
		SessionID:  "s1",
		EpisodeID:  "ep_prior",
		Content:    "the database is postgres",
		CreatedAt:  time.Now(),
		FactType:   acms.MarkerDecision,
		Confidence: 0.9,
		TokenCount: 5,
	}
	require.NoError(t, h.store.SaveFact(ctx, fact))

	items, err := h.recall.Recall(ctx, "what database are we using")
	require.NoError(t, err)

	var foundFact bool
	for _, it := range items {
		if it.Source == acms.SourceFact && it.ID == "fact_1" {
			foundFact = true
		}
	}
	assert.True(t, foundFact)
}

func TestRecallCurrentEpisodeOverflowKeepsMarkedWithinReservation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Three 80-char turns at 20 heuristic tokens each; the middle one is
	// marked. With a 100-token budget and a 0.4 reservation (40 tokens)
	// only two fit: the marked turn plus the most recent unmarked one,
	// emitted back in chronological order.
	pad := func(prefix string) string {
		out := prefix
		for len(out) < 80 {
			out += "x"
		}
		return out
	}
	a, b, c := pad("first "), pad("second "), pad("third ")

	_, err := h.ingest.Ingest(ctx, ingest.Input{Role: "user", Content: a})
	require.NoError(t, err)
	_, err = h.ingest.Ingest(ctx, ingest.Input{Role: "user", Content: b, ExplicitMarkers: []string{"constraint"}})
	require.NoError(t, err)
	_, err = h.ingest.Ingest(ctx, ingest.Input{Role: "user", Content: c})
	require.NoError(t, err)

	items, err := h.recall.Recall(ctx, "anything at all", WithTokenBudget(100))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, b, items[0].Content)
	assert.Equal(t, c, items[1].Content)

	total := 0
	for _, it := range items {
		total += it.TokenCount
	}
	assert.LessOrEqual(t, total, 40)
}

func TestRecallExcludesSupersededFacts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	fact := &acms.Fact{
		ID:           "fact_1",
		SessionID:    "s1",
		Content:      "old fact",
		CreatedAt:    time.Now(),
		FactType:     acms.MarkerDecision,
		TokenCount:   5,
		SupersededBy: "fact_2",
	}
	require.NoError(t, h.store.SaveFact(ctx, fact))

	items, err := h.recall.Recall(ctx, "old fact")
	require.NoError(t, err)
	for _, it := range items {
		assert.NotEqual(t, "fact_1", it.ID)
	}
}
