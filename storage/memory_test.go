package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Saket-Kr/acms"
)

func TestMemoryStoreSaveGetTurn(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	turn := &acms.Turn{ID: "turn_1", SessionID: "s1", EpisodeID: "ep_1", Role: acms.RoleUser, Content: "hi", CreatedAt: time.Now()}
	require.NoError(t, s.SaveTurn(ctx, turn))

	got, err := s.GetTurn(ctx, "turn_1")
	require.NoError(t, err)
	require.Equal(t, "hi", got.Content)

	_, err = s.GetTurn(ctx, "missing")
	require.Error(t, err)
}

func TestMemoryStoreGetTurnsByEpisodeOrdersByPosition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.SaveTurn(ctx, &acms.Turn{ID: "t2", SessionID: "s1", EpisodeID: "ep1", Position: 2, CreatedAt: now}))
	require.NoError(t, s.SaveTurn(ctx, &acms.Turn{ID: "t1", SessionID: "s1", EpisodeID: "ep1", Position: 1, CreatedAt: now}))

	turns, err := s.GetTurnsByEpisode(ctx, "ep1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "t1", turns[0].ID)
	require.Equal(t, "t2", turns[1].ID)
}

func TestMemoryStoreGetMarkedTurnsExcludesEpisodeAndUnmarked(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.SaveTurn(ctx, &acms.Turn{ID: "marked-current", SessionID: "s1", EpisodeID: "current", Markers: []string{"goal"}, CreatedAt: now}))
	require.NoError(t, s.SaveTurn(ctx, &acms.Turn{ID: "marked-other", SessionID: "s1", EpisodeID: "other", Markers: []string{"goal"}, CreatedAt: now}))
	require.NoError(t, s.SaveTurn(ctx, &acms.Turn{ID: "unmarked", SessionID: "s1", EpisodeID: "other", CreatedAt: now}))

	marked, err := s.GetMarkedTurns(ctx, "s1", "current")
	require.NoError(t, err)
	require.Len(t, marked, 1)
	require.Equal(t, "marked-other", marked[0].ID)
}

func TestMemoryStoreEpisodeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ep := &acms.Episode{ID: "ep1", SessionID: "s1", Status: acms.EpisodeOpen, CreatedAt: time.Now()}
	require.NoError(t, s.SaveEpisode(ctx, ep))

	got, err := s.GetEpisode(ctx, "ep1")
	require.NoError(t, err)
	require.Equal(t, acms.EpisodeOpen, got.Status)

	got.Status = acms.EpisodeClosed
	require.NoError(t, s.UpdateEpisode(ctx, got))

	reloaded, err := s.GetEpisode(ctx, "ep1")
	require.NoError(t, err)
	require.Equal(t, acms.EpisodeClosed, reloaded.Status)

	err = s.UpdateEpisode(ctx, &acms.Episode{ID: "missing"})
	require.Error(t, err)
}

func TestMemoryStoreGetEpisodesFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SaveEpisode(ctx, &acms.Episode{ID: "ep1", SessionID: "s1", Status: acms.EpisodeClosed, CreatedAt: time.Now()}))
	require.NoError(t, s.SaveEpisode(ctx, &acms.Episode{ID: "ep2", SessionID: "s1", Status: acms.EpisodeOpen, CreatedAt: time.Now()}))

	open, err := s.GetEpisodes(ctx, "s1", 0, WithEpisodeStatus(acms.EpisodeOpen))
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "ep2", open[0].ID)

	all, err := s.GetEpisodes(ctx, "s1", 0, AnyEpisodeStatus())
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMemoryStoreVectorSearchOrdersByScoreAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SaveEmbedding(ctx, "e1", []float64{1, 0}, map[string]any{"session_id": "s1", "type": "turn"}))
	require.NoError(t, s.SaveEmbedding(ctx, "e2", []float64{0, 1}, map[string]any{"session_id": "s1", "type": "turn"}))
	require.NoError(t, s.SaveEmbedding(ctx, "e3", []float64{1, 0}, map[string]any{"session_id": "s2", "type": "turn"}))

	results, err := s.VectorSearch(ctx, []float64{1, 0}, 10, map[string]any{"session_id": "s1", "type": "turn"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "e1", results[0].ID)
}

func TestMemoryStoreVectorSearchLimitsK(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveEmbedding(ctx, string(rune('a'+i)), []float64{1, 0}, map[string]any{"session_id": "s1"}))
	}
	results, err := s.VectorSearch(ctx, []float64{1, 0}, 3, map[string]any{"session_id": "s1"})
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestMemoryStoreFactSupersessionQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f1 := &acms.Fact{ID: "f1", SessionID: "s1", EpisodeID: "ep1", CreatedAt: time.Now()}
	require.NoError(t, s.SaveFact(ctx, f1))
	f2 := &acms.Fact{ID: "f2", SessionID: "s1", EpisodeID: "ep2", CreatedAt: time.Now(), SupersededBy: ""}
	require.NoError(t, s.SaveFact(ctx, f2))

	active, err := s.GetActiveFactsBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, active, 2)

	f1.SupersededBy = "f2"
	require.NoError(t, s.UpdateFact(ctx, f1))

	active, err = s.GetActiveFactsBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "f2", active[0].ID)

	byEpisode, err := s.GetFactsByEpisode(ctx, "ep1")
	require.NoError(t, err)
	require.Len(t, byEpisode, 1)
}

func TestMemoryStoreGetSessionStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.SaveTurn(ctx, &acms.Turn{ID: "t1", SessionID: "s1", EpisodeID: "ep1", TokenCount: 10, CreatedAt: now}))
	require.NoError(t, s.SaveTurn(ctx, &acms.Turn{ID: "t2", SessionID: "s1", EpisodeID: "ep1", TokenCount: 20, CreatedAt: now.Add(time.Minute)}))
	require.NoError(t, s.SaveEpisode(ctx, &acms.Episode{ID: "ep1", SessionID: "s1", Status: acms.EpisodeOpen, TurnCount: 2, CreatedAt: now}))
	require.NoError(t, s.SaveFact(ctx, &acms.Fact{ID: "f1", SessionID: "s1", CreatedAt: now}))

	stats, err := s.GetSessionStats(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalTurns)
	require.Equal(t, 1, stats.TotalEpisodes)
	require.Equal(t, 1, stats.TotalFacts)
	require.Equal(t, "ep1", stats.CurrentEpisodeID)
	require.Equal(t, 2, stats.CurrentEpisodeTurns)
	require.Equal(t, 30, stats.TotalTokensIngested)
}
