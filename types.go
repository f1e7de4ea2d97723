// Package acms implements a session-scoped memory layer for conversational
// AI agents: L0 raw turns, L1 bounded episodes, and L2 LLM-distilled
// semantic facts that evolve across episodes via supersession.
package acms

import "time"

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ParseRole coerces a string into a Role, returning false if it names
// none of the known roles.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleTool:
		return Role(s), true
	default:
		return "", false
	}
}

// EpisodeStatus is the lifecycle state of an Episode.
type EpisodeStatus string

const (
	EpisodeOpen   EpisodeStatus = "open"
	EpisodeClosed EpisodeStatus = "closed"
)

// MarkerType identifies one of the four built-in marker categories. Custom
// markers are arbitrary strings with a "custom:" prefix and are not
// members of this enum.
type MarkerType string

const (
	MarkerDecision   MarkerType = "decision"
	MarkerConstraint MarkerType = "constraint"
	MarkerFailure    MarkerType = "failure"
	MarkerGoal       MarkerType = "goal"
)

// CustomMarkerPrefix prefixes arbitrary caller-defined markers.
const CustomMarkerPrefix = "custom:"

// IsCustomMarker reports whether m is a well-formed custom marker: the
// "custom:" prefix followed by a non-empty name.
func IsCustomMarker(m string) bool {
	if len(m) <= len(CustomMarkerPrefix) {
		return false
	}
	return m[:len(CustomMarkerPrefix)] == CustomMarkerPrefix
}

// RemovedBySentinel returns the superseded_by sentinel value recorded on
// a fact removed (rather than replaced) during reflection for episodeID.
func RemovedBySentinel(episodeID string) string {
	return "removed_by_" + episodeID
}

// Turn is a single L0 raw conversational turn.
type Turn struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	EpisodeID   string         `json:"episode_id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	CreatedAt   time.Time      `json:"created_at"`
	ActorID     string         `json:"actor_id,omitempty"`
	Markers     []string       `json:"markers,omitempty"`
	TokenCount  int            `json:"token_count"`
	EmbeddingID string         `json:"embedding_id,omitempty"`
	Position    int64          `json:"position"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Copy returns a deep copy of the turn.
func (t *Turn) Copy() *Turn {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Markers != nil {
		cp.Markers = append([]string(nil), t.Markers...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Episode is an L1 bounded grouping of turns, the unit of reflection.
type Episode struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Status      EpisodeStatus  `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
	CloseReason string         `json:"close_reason,omitempty"`
	TurnCount   int            `json:"turn_count"`
	TotalTokens int            `json:"total_tokens"`
	Markers     []string       `json:"markers,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Copy returns a deep copy of the episode.
func (e *Episode) Copy() *Episode {
	if e == nil {
		return nil
	}
	cp := *e
	if e.ClosedAt != nil {
		t := *e.ClosedAt
		cp.ClosedAt = &t
	}
	if e.Markers != nil {
		cp.Markers = append([]string(nil), e.Markers...)
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Fact is an L2 semantic conclusion distilled by the reflector. Facts are
// immutable except for SupersededBy, which is set exactly once when the
// fact is replaced or removed.
type Fact struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	EpisodeID    string         `json:"episode_id"`
	Content      string         `json:"content"`
	CreatedAt    time.Time      `json:"created_at"`
	FactType     MarkerType     `json:"fact_type"`
	Confidence   float64        `json:"confidence"`
	EmbeddingID  string         `json:"embedding_id,omitempty"`
	TokenCount   int            `json:"token_count"`
	SupersededBy string         `json:"superseded_by,omitempty"`
	Supersedes   []string       `json:"supersedes,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Active reports whether the fact has not been superseded or removed.
func (f *Fact) Active() bool {
	return f.SupersededBy == ""
}

// Copy returns a deep copy of the fact.
func (f *Fact) Copy() *Fact {
	if f == nil {
		return nil
	}
	cp := *f
	if f.Supersedes != nil {
		cp.Supersedes = append([]string(nil), f.Supersedes...)
	}
	if f.Metadata != nil {
		cp.Metadata = make(map[string]any, len(f.Metadata))
		for k, v := range f.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// EmbeddingType identifies what kind of entity an embedding record backs.
type EmbeddingType string

const (
	EmbeddingTypeTurn EmbeddingType = "turn"
	EmbeddingTypeFact EmbeddingType = "fact"
)

// EmbeddingRecord is a stored dense vector plus identifying metadata.
type EmbeddingRecord struct {
	ID       string         `json:"id"`
	Vector   []float64      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

// ContextSource identifies where a recall ContextItem originated.
type ContextSource string

const (
	SourceTurn    ContextSource = "turn"
	SourceEpisode ContextSource = "episode"
	SourceFact    ContextSource = "fact"
)

// ContextItem is one element of a recall result: a turn, episode summary,
// or fact selected under the token budget.
type ContextItem struct {
	ID         string        `json:"id"`
	Content    string        `json:"content"`
	Role       Role          `json:"role,omitempty"`
	Source     ContextSource `json:"source"`
	Score      float64       `json:"score"`
	TokenCount int           `json:"token_count"`
	Markers    []string      `json:"markers,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// SessionStats summarizes the state of a session's memory.
type SessionStats struct {
	TotalTurns          int       `json:"total_turns"`
	TotalEpisodes       int       `json:"total_episodes"`
	TotalFacts          int       `json:"total_facts"`
	CurrentEpisodeID    string    `json:"current_episode_id,omitempty"`
	CurrentEpisodeTurns int       `json:"current_episode_turns"`
	TotalTokensIngested int       `json:"total_tokens_ingested"`
	CreatedAt           time.Time `json:"created_at"`
	LastActivityAt      time.Time `json:"last_activity_at"`
}
