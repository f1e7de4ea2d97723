// Package episode implements the L1 episode manager: boundary-rule
// detection, lifecycle transitions, and the on-close callback that
// drives reflection. A single mutex guards the in-memory pointer to the
// open episode; storage is the system of record.
package episode

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/log"
	"github.com/Saket-Kr/acms/storage"
)

// OnCloseFunc is invoked after an episode transitions to closed, for
// both manual and automatic closes. Its failure is logged and
// swallowed: it must never prevent the close from completing.
type OnCloseFunc func(ctx context.Context, episodeID string)

// Manager tracks at most one open episode per session and applies the
// boundary rules as turns are assigned to it.
type Manager struct {
	mu     sync.Mutex
	logger log.Logger

	sessionID string
	store     storage.Storage
	config    acms.EpisodeBoundaryConfig

	closePatterns []*regexp.Regexp

	current      *acms.Episode
	lastTurnTime time.Time
	pendingClose bool

	onClose OnCloseFunc
}

// New creates an episode manager for sessionID. closePatterns in
// config are compiled case-insensitively; an invalid pattern is
// skipped rather than rejected, since boundary rules are best-effort
// heuristics rather than validated user input.
func New(sessionID string, store storage.Storage, config acms.EpisodeBoundaryConfig, logger log.Logger) *Manager {
	m := &Manager{
		logger:    logger,
		sessionID: sessionID,
		store:     store,
		config:    config,
	}
	for _, pattern := range config.ClosePatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			if logger != nil {
				logger.Warn("episode: skipping invalid close pattern", "pattern", pattern, "error", err)
			}
			continue
		}
		m.closePatterns = append(m.closePatterns, re)
	}
	return m
}

// SetOnClose registers the callback invoked after an episode closes.
func (m *Manager) SetOnClose(fn OnCloseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// CurrentEpisodeID returns the id of the open episode, or "" if none.
func (m *Manager) CurrentEpisodeID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// boundaryFiresBefore evaluates the rules that close the current
// episode before the incoming turn is assigned, first-match-wins: a
// close deferred by the previous turn (tool result or closure
// pattern), the turn-count cap, and the time gap. The incoming turn
// then starts a fresh episode.
func (m *Manager) boundaryFiresBefore(turn *acms.Turn) bool {
	if m.current == nil {
		return false
	}
	if m.pendingClose {
		return true
	}
	if m.current.TurnCount >= m.config.MaxTurns {
		return true
	}
	if m.config.MaxTimeGapSeconds > 0 && !m.lastTurnTime.IsZero() {
		gap := turn.CreatedAt.Sub(m.lastTurnTime)
		if gap > time.Duration(m.config.MaxTimeGapSeconds)*time.Second {
			return true
		}
	}
	return false
}

// boundaryFiresAfter evaluates the rules the just-assigned turn
// triggers: a tool-role turn (when close_on_tool_result is set) and
// the configured closure patterns. The triggering turn belongs to the
// episode it ends, so the close is deferred until the turn has been
// persisted: the next AssignTurn (or a manual close) performs it.
func (m *Manager) boundaryFiresAfter(turn *acms.Turn) bool {
	if m.config.CloseOnToolResult && turn.Role == acms.RoleTool {
		return true
	}
	for _, re := range m.closePatterns {
		if re.MatchString(turn.Content) {
			return true
		}
	}
	return false
}

// AssignTurn assigns turn to the current episode, closing it first
// (reason "boundary_rule") if a boundary rule fires, and creating a
// new episode if none is open. A tool-result or closure-pattern match
// marks the episode to be closed when the next turn arrives, so the
// triggering turn stays in the episode it ends. Returns the id of the
// episode turn was assigned to.
func (m *Manager) AssignTurn(ctx context.Context, turn *acms.Turn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.boundaryFiresBefore(turn) {
		if err := m.closeLocked(ctx, "boundary_rule"); err != nil {
			return "", err
		}
	}

	if m.current == nil {
		ep := &acms.Episode{
			ID:        acms.NewEpisodeID(),
			SessionID: m.sessionID,
			Status:    acms.EpisodeOpen,
			CreatedAt: turn.CreatedAt,
		}
		if err := m.store.SaveEpisode(ctx, ep); err != nil {
			return "", err
		}
		m.current = ep
	}

	m.current.TurnCount++
	m.current.TotalTokens += turn.TokenCount
	m.current.Markers = unionMarkers(m.current.Markers, turn.Markers)
	if err := m.store.UpdateEpisode(ctx, m.current); err != nil {
		return "", err
	}
	m.lastTurnTime = turn.CreatedAt
	m.pendingClose = m.boundaryFiresAfter(turn)

	return m.current.ID, nil
}

// CloseCurrent closes the open episode, if any, with the given
// reason. Returns the closed episode's id, or "" if nothing was open.
func (m *Manager) CloseCurrent(ctx context.Context, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", nil
	}
	id := m.current.ID
	if err := m.closeLocked(ctx, reason); err != nil {
		return "", err
	}
	return id, nil
}

// closeLocked must be called with m.mu held. It persists the closed
// state, clears the in-memory reference, and invokes the on-close
// callback. Callback failures (panics) are recovered and logged; they
// never prevent the close from completing.
func (m *Manager) closeLocked(ctx context.Context, reason string) error {
	ep := m.current
	now := time.Now()
	ep.Status = acms.EpisodeClosed
	ep.ClosedAt = &now
	ep.CloseReason = reason
	if err := m.store.UpdateEpisode(ctx, ep); err != nil {
		return err
	}
	closedID := ep.ID
	m.current = nil
	m.lastTurnTime = time.Time{}
	m.pendingClose = false

	if m.onClose != nil {
		m.invokeOnClose(ctx, closedID)
	}
	return nil
}

func (m *Manager) invokeOnClose(ctx context.Context, episodeID string) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error("episode: on-close callback panicked", "episode_id", episodeID, "panic", r)
		}
	}()
	m.onClose(ctx, episodeID)
}

// GetCurrentEpisodeTurns returns the turns assigned to the current
// open episode, in position order. Returns an empty slice if no
// episode is open.
func (m *Manager) GetCurrentEpisodeTurns(ctx context.Context) ([]*acms.Turn, error) {
	m.mu.Lock()
	id := ""
	if m.current != nil {
		id = m.current.ID
	}
	m.mu.Unlock()
	if id == "" {
		return nil, nil
	}
	return m.store.GetTurnsByEpisode(ctx, id)
}

func unionMarkers(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, m := range existing {
		seen[m] = true
	}
	for _, m := range add {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
