package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/acmserr"
	"github.com/Saket-Kr/acms/embedding"
)

// MemoryStore is an in-memory Storage implementation. Suitable for
// development, testing, and single-process deployments; data is lost
// when the process exits.
type MemoryStore struct {
	mu         sync.RWMutex
	turns      map[string]*acms.Turn
	episodes   map[string]*acms.Episode
	facts      map[string]*acms.Fact
	embeddings map[string]*acms.EmbeddingRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns:      make(map[string]*acms.Turn),
		episodes:   make(map[string]*acms.Episode),
		facts:      make(map[string]*acms.Fact),
		embeddings: make(map[string]*acms.EmbeddingRecord),
	}
}

var _ Storage = (*MemoryStore)(nil)

func (s *MemoryStore) SaveTurn(ctx context.Context, turn *acms.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.ID] = turn.Copy()
	return nil
}

func (s *MemoryStore) GetTurn(ctx context.Context, id string) (*acms.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.turns[id]
	if !ok {
		return nil, acmserr.ErrTurnNotFound
	}
	return t.Copy(), nil
}

func (s *MemoryStore) GetTurnsByEpisode(ctx context.Context, episodeID string) ([]*acms.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acms.Turn
	for _, t := range s.turns {
		if t.EpisodeID == episodeID {
			out = append(out, t.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryStore) GetTurnsBySession(ctx context.Context, sessionID string, limit int) ([]*acms.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acms.Turn
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			out = append(out, t.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetMarkedTurns(ctx context.Context, sessionID string, excludeEpisodeID string) ([]*acms.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acms.Turn
	for _, t := range s.turns {
		if t.SessionID != sessionID || len(t.Markers) == 0 {
			continue
		}
		if excludeEpisodeID != "" && t.EpisodeID == excludeEpisodeID {
			continue
		}
		out = append(out, t.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveEpisode(ctx context.Context, episode *acms.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[episode.ID] = episode.Copy()
	return nil
}

func (s *MemoryStore) GetEpisode(ctx context.Context, id string) (*acms.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.episodes[id]
	if !ok {
		return nil, acmserr.ErrEpisodeNotFound
	}
	return e.Copy(), nil
}

func (s *MemoryStore) GetEpisodes(ctx context.Context, sessionID string, limit int, status EpisodeStatusFilter) ([]*acms.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acms.Episode
	for _, e := range s.episodes {
		if e.SessionID != sessionID {
			continue
		}
		if !status.Any && e.Status != status.Status {
			continue
		}
		out = append(out, e.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateEpisode(ctx context.Context, episode *acms.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[episode.ID]; !ok {
		return acmserr.ErrEpisodeNotFound
	}
	s.episodes[episode.ID] = episode.Copy()
	return nil
}

func (s *MemoryStore) SaveEmbedding(ctx context.Context, id string, vector []float64, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float64, len(vector))
	copy(cp, vector)
	metaCopy := make(map[string]any, len(metadata))
	for k, v := range metadata {
		metaCopy[k] = v
	}
	s.embeddings[id] = &acms.EmbeddingRecord{ID: id, Vector: cp, Metadata: metaCopy}
	return nil
}

func (s *MemoryStore) GetEmbedding(ctx context.Context, id string) (*acms.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.embeddings[id]
	if !ok {
		return nil, acmserr.NewStorageError("get_embedding", acmserr.ErrEmbeddingNotFound)
	}
	cp := *rec
	cp.Vector = append([]float64(nil), rec.Vector...)
	return &cp, nil
}

func (s *MemoryStore) VectorSearch(ctx context.Context, vector []float64, k int, filter map[string]any) ([]VectorSearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []VectorSearchResult
	for id, rec := range s.embeddings {
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		score := embedding.Cosine(vector, rec.Vector)
		results = append(results, VectorSearchResult{ID: id, Score: score, Metadata: rec.Metadata})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func (s *MemoryStore) SaveFact(ctx context.Context, fact *acms.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[fact.ID] = fact.Copy()
	return nil
}

func (s *MemoryStore) GetFactsBySession(ctx context.Context, sessionID string) ([]*acms.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acms.Fact
	for _, f := range s.facts {
		if f.SessionID == sessionID {
			out = append(out, f.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetFactsByEpisode(ctx context.Context, episodeID string) ([]*acms.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acms.Fact
	for _, f := range s.facts {
		if f.EpisodeID == episodeID {
			out = append(out, f.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetActiveFactsBySession(ctx context.Context, sessionID string) ([]*acms.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*acms.Fact
	for _, f := range s.facts {
		if f.SessionID == sessionID && f.Active() {
			out = append(out, f.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateFact(ctx context.Context, fact *acms.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.facts[fact.ID]; !ok {
		return acmserr.NewStorageError("update_fact", acmserr.ErrFactNotFound)
	}
	s.facts[fact.ID] = fact.Copy()
	return nil
}

func (s *MemoryStore) GetSessionStats(ctx context.Context, sessionID string) (acms.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats acms.SessionStats
	var totalTokens int
	var created, lastActivity time.Time
	first := true

	for _, t := range s.turns {
		if t.SessionID != sessionID {
			continue
		}
		stats.TotalTurns++
		totalTokens += t.TokenCount
		if first || t.CreatedAt.Before(created) {
			created = t.CreatedAt
		}
		if first || t.CreatedAt.After(lastActivity) {
			lastActivity = t.CreatedAt
		}
		first = false
	}
	stats.TotalTokensIngested = totalTokens

	for _, e := range s.episodes {
		if e.SessionID != sessionID {
			continue
		}
		stats.TotalEpisodes++
		if e.Status == acms.EpisodeOpen {
			stats.CurrentEpisodeID = e.ID
			stats.CurrentEpisodeTurns = e.TurnCount
		}
	}

	for _, f := range s.facts {
		if f.SessionID == sessionID {
			stats.TotalFacts++
		}
	}

	stats.CreatedAt = created
	stats.LastActivityAt = lastActivity
	return stats, nil
}

// Close is a no-op for MemoryStore: there are no external resources to release.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }
