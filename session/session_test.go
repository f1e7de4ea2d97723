package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/embedding"
	"github.com/Saket-Kr/acms/reflect"
	"github.com/Saket-Kr/acms/reflect/testreflector"
	"github.com/Saket-Kr/acms/storage"
)

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	cfg := acms.DefaultConfig()
	cfg.EpisodeBoundary.MaxTurns = 2
	sess, err := New("sess-1", storage.NewMemoryStore(), embedding.NewHashEmbedder(16), cfg, opts...)
	require.NoError(t, err)
	return sess
}

func TestIngestPersistsAndAssignsEpisode(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()

	turn, err := sess.Ingest(ctx, IngestInput{Role: "user", Content: "hello there"})
	require.NoError(t, err)
	assert.NotEmpty(t, turn.ID)
	assert.Equal(t, sess.CurrentEpisodeID(), turn.EpisodeID)
}

func TestIngestRejectsInvalidRole(t *testing.T) {
	sess := newTestSession(t)
	_, err := sess.Ingest(context.Background(), IngestInput{Role: "narrator", Content: "hello"})
	require.Error(t, err)
}

func TestRecallReturnsIngestedContent(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()

	_, err := sess.Ingest(ctx, IngestInput{Role: "user", Content: "the deploy failed because of a timeout"})
	require.NoError(t, err)

	items, err := sess.Recall(ctx, "deploy timeout", WithTokenBudget(1000))
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Contains(t, items[0].Content, "deploy failed")
}

func TestCloseEpisodeClosesOpenEpisode(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()

	_, err := sess.Ingest(ctx, IngestInput{Role: "user", Content: "first turn"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.CurrentEpisodeID())

	closedID, err := sess.CloseEpisode(ctx, "manual")
	require.NoError(t, err)
	assert.NotEmpty(t, closedID)
	assert.Empty(t, sess.CurrentEpisodeID())
}

func TestCloseEpisodeNoOpWhenNoneOpen(t *testing.T) {
	sess := newTestSession(t)
	closedID, err := sess.CloseEpisode(context.Background(), "manual")
	require.NoError(t, err)
	assert.Empty(t, closedID)
}

func TestGetSessionStatsReflectsIngestedTurns(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()

	_, err := sess.Ingest(ctx, IngestInput{Role: "user", Content: "one"})
	require.NoError(t, err)
	_, err = sess.Ingest(ctx, IngestInput{Role: "assistant", Content: "two"})
	require.NoError(t, err)

	stats, err := sess.GetSessionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTurns)
}

func TestCloseTriggersFinalReflectionAndIsIdempotent(t *testing.T) {
	reflector := testreflector.New().
		AddLegacyResponse(reflect.CandidateFact{Content: "user prefers dark mode", FactType: acms.MarkerDecision, Confidence: 0.9})

	sess := newTestSession(t, WithReflector(reflector))
	ctx := context.Background()

	_, err := sess.Ingest(ctx, IngestInput{Role: "user", Content: "I've decided to use dark mode everywhere"})
	require.NoError(t, err)

	require.NoError(t, sess.Close(ctx))
	require.NoError(t, sess.Close(ctx)) // idempotent

	require.Len(t, reflector.LegacyCalls, 1)
}

func TestOperationsFailAfterClose(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()
	require.NoError(t, sess.Close(ctx))

	_, err := sess.Ingest(ctx, IngestInput{Role: "user", Content: "too late"})
	assert.Error(t, err)

	_, err = sess.Recall(ctx, "anything")
	assert.Error(t, err)

	_, err = sess.GetSessionStats(ctx)
	assert.Error(t, err)
}

func TestNewRejectsNilStoreAndConfig(t *testing.T) {
	_, err := New("sess-1", nil, nil, acms.DefaultConfig())
	require.Error(t, err)

	_, err = New("sess-1", storage.NewMemoryStore(), nil, nil)
	require.Error(t, err)
}

func TestNewRejectsInvalidSessionID(t *testing.T) {
	_, err := New("", storage.NewMemoryStore(), nil, acms.DefaultConfig())
	require.Error(t, err)
}
