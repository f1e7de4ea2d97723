// Package ingest implements the turn-ingestion pipeline: validate,
// detect markers, count tokens, assign an episode, embed, and persist.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/embedding"
	"github.com/Saket-Kr/acms/episode"
	"github.com/Saket-Kr/acms/log"
	"github.com/Saket-Kr/acms/marker"
	"github.com/Saket-Kr/acms/retry"
	"github.com/Saket-Kr/acms/storage"
	"github.com/Saket-Kr/acms/tokencount"
	"github.com/Saket-Kr/acms/validate"
)

// Input carries the caller-supplied fields of a single turn to ingest.
type Input struct {
	Role            string
	Content         string
	ActorID         string
	ExplicitMarkers []string
	Metadata        map[string]any
}

// Pipeline runs the ingestion steps for one session.
type Pipeline struct {
	sessionID string
	store     storage.Storage
	embedder  embedding.Embedder
	counter   tokencount.Counter
	episodes  *episode.Manager
	config    *acms.Config
	logger    log.Logger

	mu           sync.Mutex
	nextPosition int64
}

// New creates an ingestion pipeline for sessionID.
func New(sessionID string, store storage.Storage, embedder embedding.Embedder, counter tokencount.Counter, episodes *episode.Manager, config *acms.Config, logger log.Logger) *Pipeline {
	return &Pipeline{
		sessionID: sessionID,
		store:     store,
		embedder:  embedder,
		counter:   counter,
		episodes:  episodes,
		config:    config,
		logger:    logger,
	}
}

// Ingest validates and persists one turn, returning it with its
// assigned episode, position, and token count. Episode counters are
// updated before the embed and persist steps; a provider or storage
// failure after assignment leaves them updated.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (*acms.Turn, error) {
	role, err := validate.Role(in.Role)
	if err != nil {
		return nil, err
	}
	content, err := validate.Content(in.Content, p.config.MaxContentLength)
	if err != nil {
		return nil, err
	}
	if err := validate.Markers(in.ExplicitMarkers); err != nil {
		return nil, err
	}

	markers := marker.Merge(content, in.ExplicitMarkers, p.config.AutoDetectMarkers)

	tokenCount := p.counter.Count(content)

	turn := &acms.Turn{
		ID:         acms.NewTurnID(),
		SessionID:  p.sessionID,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now(),
		ActorID:    in.ActorID,
		Markers:    markers,
		TokenCount: tokenCount,
		Position:   p.nextPositionValue(),
		Metadata:   in.Metadata,
	}

	episodeID, err := p.episodes.AssignTurn(ctx, turn)
	if err != nil {
		return nil, err
	}
	turn.EpisodeID = episodeID

	if err := p.embedTurn(ctx, turn); err != nil {
		return nil, err
	}

	if err := p.store.SaveTurn(ctx, turn); err != nil {
		return nil, err
	}

	return turn, nil
}

func (p *Pipeline) nextPositionValue() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.nextPosition
	p.nextPosition++
	return pos
}

// embedTurn embeds the turn's content and, on success, saves the
// embedding and attaches its id to the turn. Provider and storage
// failures propagate, so a failed embed leaves the turn unpersisted. The
// turn is persisted without an embedding only when no embedder is
// configured or the embedder returns no vectors.
func (p *Pipeline) embedTurn(ctx context.Context, turn *acms.Turn) error {
	if p.embedder == nil {
		return nil
	}

	var resp *embedding.Response
	err := retry.Do(ctx, retry.EmbedderPolicy, func() error {
		r, embErr := p.embedder.Embed(ctx, []string{turn.Content})
		if embErr != nil {
			return embErr
		}
		resp = r
		return nil
	})
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("ingest: embedding turn failed", "turn_id", turn.ID, "error", err)
		}
		return err
	}
	if len(resp.Vectors) == 0 {
		return nil
	}

	embeddingID := acms.NewEmbeddingID()
	metadata := map[string]any{
		"session_id":  p.sessionID,
		"episode_id":  turn.EpisodeID,
		"turn_id":     turn.ID,
		"type":        string(acms.EmbeddingTypeTurn),
		"role":        string(turn.Role),
		"has_markers": len(turn.Markers) > 0,
	}
	if err := p.store.SaveEmbedding(ctx, embeddingID, resp.Vectors[0], metadata); err != nil {
		return err
	}
	turn.EmbeddingID = embeddingID
	return nil
}
