// Package storage defines the polymorphic storage contract the ACMS core
// depends on and provides an in-memory reference implementation backed by
// mutex-guarded maps. Turns, episodes and facts are deep-copied on read
// and write, and embedding vectors are copied; the metadata maps returned
// by GetEmbedding and VectorSearch are the stored maps, not copies.
package storage

import (
	"context"

	"github.com/Saket-Kr/acms"
)

// VectorSearchResult is one match returned by Storage.VectorSearch.
type VectorSearchResult struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// EpisodeStatusFilter optionally restricts GetEpisodes to one status.
type EpisodeStatusFilter struct {
	Status acms.EpisodeStatus
	Any    bool // true means "no filter"
}

// AnyEpisodeStatus returns a filter that matches episodes of any status.
func AnyEpisodeStatus() EpisodeStatusFilter { return EpisodeStatusFilter{Any: true} }

// WithEpisodeStatus returns a filter that matches only the given status.
func WithEpisodeStatus(status acms.EpisodeStatus) EpisodeStatusFilter {
	return EpisodeStatusFilter{Status: status}
}

// Storage is the CRUD + vector-search contract the core consumes. Every
// method may block on I/O and takes a context.Context for cancellation.
type Storage interface {
	// Turn operations.
	SaveTurn(ctx context.Context, turn *acms.Turn) error
	GetTurn(ctx context.Context, id string) (*acms.Turn, error)
	GetTurnsByEpisode(ctx context.Context, episodeID string) ([]*acms.Turn, error)
	GetTurnsBySession(ctx context.Context, sessionID string, limit int) ([]*acms.Turn, error)
	GetMarkedTurns(ctx context.Context, sessionID string, excludeEpisodeID string) ([]*acms.Turn, error)

	// Episode operations.
	SaveEpisode(ctx context.Context, episode *acms.Episode) error
	GetEpisode(ctx context.Context, id string) (*acms.Episode, error)
	GetEpisodes(ctx context.Context, sessionID string, limit int, status EpisodeStatusFilter) ([]*acms.Episode, error)
	UpdateEpisode(ctx context.Context, episode *acms.Episode) error

	// Embedding operations.
	SaveEmbedding(ctx context.Context, id string, vector []float64, metadata map[string]any) error
	GetEmbedding(ctx context.Context, id string) (*acms.EmbeddingRecord, error)
	VectorSearch(ctx context.Context, vector []float64, k int, filter map[string]any) ([]VectorSearchResult, error)

	// Fact operations.
	SaveFact(ctx context.Context, fact *acms.Fact) error
	GetFactsBySession(ctx context.Context, sessionID string) ([]*acms.Fact, error)
	GetFactsByEpisode(ctx context.Context, episodeID string) ([]*acms.Fact, error)
	GetActiveFactsBySession(ctx context.Context, sessionID string) ([]*acms.Fact, error)
	UpdateFact(ctx context.Context, fact *acms.Fact) error

	// Stats.
	GetSessionStats(ctx context.Context, sessionID string) (acms.SessionStats, error)

	// Close releases any resources held by the backend (connections,
	// file handles). Safe to call multiple times.
	Close(ctx context.Context) error
}
