package episode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/storage"
)

func newTurn(role acms.Role, content string, at time.Time) *acms.Turn {
	return &acms.Turn{
		ID:        acms.NewTurnID(),
		SessionID: "s1",
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

func TestAssignTurnCreatesEpisodeOnFirstTurn(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := New("s1", store, acms.EpisodeBoundaryConfig{MaxTurns: 6, MaxTimeGapSeconds: 1800}, nil)

	epID, err := m.AssignTurn(ctx, newTurn(acms.RoleUser, "hello", time.Now()))
	require.NoError(t, err)
	assert.NotEmpty(t, epID)
	assert.Equal(t, epID, m.CurrentEpisodeID())

	ep, err := store.GetEpisode(ctx, epID)
	require.NoError(t, err)
	assert.Equal(t, 1, ep.TurnCount)
	assert.Equal(t, acms.EpisodeOpen, ep.Status)
}

func TestAssignTurnClosesOnMaxTurns(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	var closed []string
	m := New("s1", store, acms.EpisodeBoundaryConfig{MaxTurns: 2, MaxTimeGapSeconds: 1800}, nil)
	m.SetOnClose(func(ctx context.Context, id string) { closed = append(closed, id) })

	now := time.Now()
	first, err := m.AssignTurn(ctx, newTurn(acms.RoleUser, "a", now))
	require.NoError(t, err)
	_, err = m.AssignTurn(ctx, newTurn(acms.RoleUser, "b", now.Add(time.Second)))
	require.NoError(t, err)

	second, err := m.AssignTurn(ctx, newTurn(acms.RoleUser, "c", now.Add(2*time.Second)))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, []string{first}, closed)

	ep, err := store.GetEpisode(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, acms.EpisodeClosed, ep.Status)
	assert.Equal(t, "boundary_rule", ep.CloseReason)
}

func TestAssignTurnClosesOnTimeGap(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := New("s1", store, acms.EpisodeBoundaryConfig{MaxTurns: 100, MaxTimeGapSeconds: 10}, nil)

	now := time.Now()
	first, err := m.AssignTurn(ctx, newTurn(acms.RoleUser, "a", now))
	require.NoError(t, err)

	second, err := m.AssignTurn(ctx, newTurn(acms.RoleUser, "b", now.Add(time.Hour)))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAssignTurnClosesOnToolResult(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := New("s1", store, acms.EpisodeBoundaryConfig{MaxTurns: 100, MaxTimeGapSeconds: 1800, CloseOnToolResult: true}, nil)

	now := time.Now()
	first, err := m.AssignTurn(ctx, newTurn(acms.RoleTool, "result", now))
	require.NoError(t, err)

	second, err := m.AssignTurn(ctx, newTurn(acms.RoleUser, "next", now.Add(time.Second)))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAssignTurnClosesOnPattern(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := New("s1", store, acms.EpisodeBoundaryConfig{
		MaxTurns:          100,
		MaxTimeGapSeconds: 1800,
		ClosePatterns:     []string{"^done$"},
	}, nil)

	now := time.Now()
	first, err := m.AssignTurn(ctx, newTurn(acms.RoleUser, "done", now))
	require.NoError(t, err)

	second, err := m.AssignTurn(ctx, newTurn(acms.RoleUser, "next", now.Add(time.Second)))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCloseCurrentReturnsEmptyWhenNoneOpen(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := New("s1", store, acms.EpisodeBoundaryConfig{MaxTurns: 6, MaxTimeGapSeconds: 1800}, nil)

	id, err := m.CloseCurrent(ctx, "manual")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestCloseCurrentInvokesCallbackAndSurvivesPanic(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := New("s1", store, acms.EpisodeBoundaryConfig{MaxTurns: 6, MaxTimeGapSeconds: 1800}, nil)
	m.SetOnClose(func(ctx context.Context, id string) { panic("boom") })

	epID, err := m.AssignTurn(ctx, newTurn(acms.RoleUser, "hi", time.Now()))
	require.NoError(t, err)

	closedID, err := m.CloseCurrent(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, epID, closedID)
	assert.Empty(t, m.CurrentEpisodeID())
}

func TestGetCurrentEpisodeTurnsOrdersByPosition(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := New("s1", store, acms.EpisodeBoundaryConfig{MaxTurns: 6, MaxTimeGapSeconds: 1800}, nil)

	t1 := newTurn(acms.RoleUser, "first", time.Now())
	t1.Position = 1
	epID, err := m.AssignTurn(ctx, t1)
	require.NoError(t, err)
	t1.EpisodeID = epID
	t2 := newTurn(acms.RoleAssistant, "second", time.Now())
	t2.Position = 2
	_, err = m.AssignTurn(ctx, t2)
	require.NoError(t, err)
	t2.EpisodeID = epID
	// Save out of position order so the result's order comes from Position.
	require.NoError(t, store.SaveTurn(ctx, t2))
	require.NoError(t, store.SaveTurn(ctx, t1))

	turns, err := m.GetCurrentEpisodeTurns(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, epID, turns[0].EpisodeID)
	assert.Equal(t, "first", turns[0].Content)
	assert.Equal(t, "second", turns[1].Content)
}

func TestMarkersUnionOnAssign(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := New("s1", store, acms.EpisodeBoundaryConfig{MaxTurns: 6, MaxTimeGapSeconds: 1800}, nil)

	turn := newTurn(acms.RoleUser, "decision: go with postgres", time.Now())
	turn.Markers = []string{"decision"}
	epID, err := m.AssignTurn(ctx, turn)
	require.NoError(t, err)

	ep, err := store.GetEpisode(ctx, epID)
	require.NoError(t, err)
	assert.Equal(t, []string{"decision"}, ep.Markers)
}
