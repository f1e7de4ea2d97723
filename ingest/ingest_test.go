package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/embedding"
	"github.com/Saket-Kr/acms/episode"
	"github.com/Saket-Kr/acms/storage"
	"github.com/Saket-Kr/acms/tokencount"
)

func newPipeline(t *testing.T, store storage.Storage, embedder embedding.Embedder) *Pipeline {
	t.Helper()
	cfg := acms.DefaultConfig()
	mgr := episode.New("s1", store, cfg.EpisodeBoundary, nil)
	return New("s1", store, embedder, tokencount.NewHeuristic(), mgr, cfg, nil)
}

func TestIngestPersistsTurnWithPositionAndEpisode(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPipeline(t, store, embedding.NewHashEmbedder(8))

	turn, err := p.Ingest(ctx, Input{Role: "user", Content: "hello there"})
	require.NoError(t, err)
	assert.NotEmpty(t, turn.EpisodeID)
	assert.Equal(t, int64(0), turn.Position)
	assert.NotEmpty(t, turn.EmbeddingID)

	saved, err := store.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", saved.Content)
}

func TestIngestPositionsIncreaseMonotonically(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPipeline(t, store, embedding.NewNullEmbedder(8))

	t1, err := p.Ingest(ctx, Input{Role: "user", Content: "first"})
	require.NoError(t, err)
	t2, err := p.Ingest(ctx, Input{Role: "assistant", Content: "second"})
	require.NoError(t, err)
	assert.Less(t, t1.Position, t2.Position)
}

func TestIngestRejectsInvalidRole(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPipeline(t, store, embedding.NewNullEmbedder(8))

	_, err := p.Ingest(ctx, Input{Role: "narrator", Content: "x"})
	assert.Error(t, err)
}

func TestIngestRejectsEmptyContent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPipeline(t, store, embedding.NewNullEmbedder(8))

	_, err := p.Ingest(ctx, Input{Role: "user", Content: "   "})
	assert.Error(t, err)
}

func TestIngestAutoDetectsMarkers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPipeline(t, store, embedding.NewNullEmbedder(8))

	turn, err := p.Ingest(ctx, Input{Role: "user", Content: "decision: use postgres"})
	require.NoError(t, err)
	assert.Equal(t, []string{"decision"}, turn.Markers)
}

func TestIngestExplicitMarkersOverrideDetection(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPipeline(t, store, embedding.NewNullEmbedder(8))

	turn, err := p.Ingest(ctx, Input{Role: "user", Content: "decision: use postgres", ExplicitMarkers: []string{"custom:topic"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"custom:topic"}, turn.Markers)
}

type failingEmbedder struct{ dimension int }

func (f *failingEmbedder) Dimension() int { return f.dimension }
func (f *failingEmbedder) Embed(ctx context.Context, texts []string, opts ...embedding.Option) (*embedding.Response, error) {
	return nil, errors.New("boom: embedder unavailable")
}

func TestIngestEmbeddingFailurePropagatesWithoutPersistingTurn(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPipeline(t, store, &failingEmbedder{dimension: 8})

	_, err := p.Ingest(ctx, Input{Role: "user", Content: "hello"})
	require.Error(t, err)

	turns, err := store.GetTurnsBySession(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	// Episode counters stay updated: assignment happens before the
	// embed step and is not compensated on provider failure.
	episodes, err := store.GetEpisodes(ctx, "s1", 0, storage.AnyEpisodeStatus())
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, 1, episodes[0].TurnCount)
}

func TestIngestWithNilEmbedderSkipsEmbedding(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	p := newPipeline(t, store, nil)

	turn, err := p.Ingest(ctx, Input{Role: "user", Content: "hello"})
	require.NoError(t, err)
	assert.Empty(t, turn.EmbeddingID)
}
