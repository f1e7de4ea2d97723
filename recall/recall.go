// Package recall implements the context-retrieval pipeline: embed the
// query, gather candidates from four sources (current-episode turns,
// marked turns, active facts, vector search), dedup, score, and
// allocate the token budget across them.
package recall

import (
	"context"
	"sort"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/embedding"
	"github.com/Saket-Kr/acms/episode"
	"github.com/Saket-Kr/acms/log"
	"github.com/Saket-Kr/acms/marker"
	"github.com/Saket-Kr/acms/storage"
	"github.com/Saket-Kr/acms/validate"
)

// Options configures a single Recall call.
type Options struct {
	TokenBudget           int
	IncludeCurrentEpisode bool
	MinRelevance          float64
}

// Option mutates Options under construction.
type Option func(*Options)

// WithTokenBudget overrides the default token budget for this call.
func WithTokenBudget(budget int) Option {
	return func(o *Options) { o.TokenBudget = budget }
}

// WithIncludeCurrentEpisode controls whether current-episode turns are
// considered (default true).
func WithIncludeCurrentEpisode(include bool) Option {
	return func(o *Options) { o.IncludeCurrentEpisode = include }
}

// WithMinRelevance sets the minimum relevance a vector candidate must
// meet to be considered.
func WithMinRelevance(min float64) Option {
	return func(o *Options) { o.MinRelevance = min }
}

// Pipeline runs the recall algorithm for one session.
type Pipeline struct {
	sessionID string
	store     storage.Storage
	embedder  embedding.Embedder
	episodes  *episode.Manager
	config    *acms.Config
	logger    log.Logger
}

// New creates a recall pipeline for sessionID.
func New(sessionID string, store storage.Storage, embedder embedding.Embedder, episodes *episode.Manager, config *acms.Config, logger log.Logger) *Pipeline {
	return &Pipeline{
		sessionID: sessionID,
		store:     store,
		embedder:  embedder,
		episodes:  episodes,
		config:    config,
		logger:    logger,
	}
}

type candidate struct {
	item       acms.ContextItem
	finalScore float64
	turnID     string // non-empty for turn-backed candidates, for dedup
}

// Recall returns the admitted ContextItems: current-episode turns in
// chronological order, then marked turns by descending score, then
// facts and vector-retrieved turns by descending score. The summed
// token count of the result never exceeds the budget.
func (p *Pipeline) Recall(ctx context.Context, query string, opts ...Option) ([]acms.ContextItem, error) {
	options := Options{
		TokenBudget:           p.config.Recall.DefaultTokenBudget,
		IncludeCurrentEpisode: true,
		MinRelevance:          p.config.Recall.MinRelevanceThreshold,
	}
	for _, opt := range opts {
		opt(&options)
	}

	trimmed, err := validate.Content(query, 0)
	if err != nil {
		return nil, err
	}
	if err := validate.Threshold("min_relevance", options.MinRelevance); err != nil {
		return nil, err
	}

	queryVector := p.embedQuery(ctx, trimmed)

	currentTurns, err := p.currentEpisodeItems(ctx, options.IncludeCurrentEpisode)
	if err != nil {
		return nil, err
	}
	currentTurnIDs := make(map[string]bool, len(currentTurns))
	for _, c := range currentTurns {
		currentTurnIDs[c.turnID] = true
	}

	markedCandidates, err := p.markedCandidates(ctx, queryVector)
	if err != nil {
		return nil, err
	}
	markedTurnIDs := make(map[string]bool, len(markedCandidates))
	for _, c := range markedCandidates {
		markedTurnIDs[c.turnID] = true
	}

	factCandidates, err := p.factCandidates(ctx, queryVector)
	if err != nil {
		return nil, err
	}

	vectorCandidates, err := p.vectorCandidates(ctx, queryVector, options.MinRelevance, currentTurnIDs, markedTurnIDs)
	if err != nil {
		return nil, err
	}

	factsAndVectors := append(factCandidates, vectorCandidates...)
	sort.SliceStable(factsAndVectors, func(i, j int) bool {
		return factsAndVectors[i].finalScore > factsAndVectors[j].finalScore
	})
	sort.SliceStable(markedCandidates, func(i, j int) bool {
		return markedCandidates[i].finalScore > markedCandidates[j].finalScore
	})

	return allocateBudget(currentTurns, markedCandidates, factsAndVectors, options.TokenBudget, p.config.Recall.CurrentEpisodeBudgetPct), nil
}

func (p *Pipeline) embedQuery(ctx context.Context, query string) []float64 {
	if p.embedder == nil {
		return nil
	}
	resp, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("recall: query embedding failed, proceeding without semantic signal", "error", err)
		}
		return nil
	}
	if len(resp.Vectors) == 0 {
		return nil
	}
	return resp.Vectors[0]
}

func (p *Pipeline) currentEpisodeItems(ctx context.Context, include bool) ([]candidate, error) {
	if !include {
		return nil, nil
	}
	turns, err := p.episodes.GetCurrentEpisodeTurns(ctx)
	if err != nil {
		return nil, err
	}
	weights := p.config.MarkerWeights
	out := make([]candidate, 0, len(turns))
	for _, t := range turns {
		score := 1.0 + marker.Boost(t.Markers, weights.WeightFor)
		out = append(out, candidate{
			item:       turnToItem(t, score),
			finalScore: score,
			turnID:     t.ID,
		})
	}
	return out, nil
}

// relevanceFor falls back to 0.5 whenever cosine is unavailable: no
// stored embedding, or a query vector with no semantic signal.
func (p *Pipeline) relevanceFor(ctx context.Context, embeddingID string, queryVector []float64) float64 {
	if embeddingID == "" || embedding.IsZeroVector(queryVector) {
		return 0.5
	}
	rec, err := p.store.GetEmbedding(ctx, embeddingID)
	if err != nil {
		return 0.5
	}
	return embedding.Cosine(queryVector, rec.Vector)
}

func (p *Pipeline) markedCandidates(ctx context.Context, queryVector []float64) ([]candidate, error) {
	currentEpisodeID := p.episodes.CurrentEpisodeID()
	turns, err := p.store.GetMarkedTurns(ctx, p.sessionID, currentEpisodeID)
	if err != nil {
		return nil, err
	}
	weights := p.config.MarkerWeights
	out := make([]candidate, 0, len(turns))
	for _, t := range turns {
		relevance := p.relevanceFor(ctx, t.EmbeddingID, queryVector)
		boost := marker.Boost(t.Markers, weights.WeightFor)
		out = append(out, candidate{
			item:       turnToItem(t, relevance+boost),
			finalScore: relevance + boost,
			turnID:     t.ID,
		})
	}
	return out, nil
}

func (p *Pipeline) factCandidates(ctx context.Context, queryVector []float64) ([]candidate, error) {
	facts, err := p.store.GetActiveFactsBySession(ctx, p.sessionID)
	if err != nil {
		return nil, err
	}
	weights := p.config.MarkerWeights
	out := make([]candidate, 0, len(facts))
	for _, f := range facts {
		relevance := p.relevanceFor(ctx, f.EmbeddingID, queryVector)
		boost := weights.WeightFor(string(f.FactType))
		out = append(out, candidate{
			item:       factToItem(f, relevance+boost),
			finalScore: relevance + boost,
		})
	}
	return out, nil
}

func (p *Pipeline) vectorCandidates(ctx context.Context, queryVector []float64, minRelevance float64, currentTurnIDs, markedTurnIDs map[string]bool) ([]candidate, error) {
	if embedding.IsZeroVector(queryVector) {
		return nil, nil
	}
	filter := map[string]any{"session_id": p.sessionID, "type": string(acms.EmbeddingTypeTurn)}
	results, err := p.store.VectorSearch(ctx, queryVector, p.config.Recall.MaxVectorResults, filter)
	if err != nil {
		return nil, err
	}
	weights := p.config.MarkerWeights
	var out []candidate
	for _, r := range results {
		if r.Score < minRelevance {
			continue
		}
		turnID, _ := r.Metadata["turn_id"].(string)
		if turnID == "" || currentTurnIDs[turnID] || markedTurnIDs[turnID] {
			continue
		}
		t, err := p.store.GetTurn(ctx, turnID)
		if err != nil {
			continue
		}
		boost := marker.Boost(t.Markers, weights.WeightFor)
		out = append(out, candidate{
			item:       turnToItem(t, r.Score+boost),
			finalScore: r.Score + boost,
			turnID:     t.ID,
		})
	}
	return out, nil
}

func turnToItem(t *acms.Turn, score float64) acms.ContextItem {
	return acms.ContextItem{
		ID:         t.ID,
		Content:    t.Content,
		Role:       t.Role,
		Source:     acms.SourceTurn,
		Score:      score,
		TokenCount: t.TokenCount,
		Markers:    t.Markers,
		Timestamp:  t.CreatedAt,
	}
}

func factToItem(f *acms.Fact, score float64) acms.ContextItem {
	return acms.ContextItem{
		ID:         f.ID,
		Content:    f.Content,
		Source:     acms.SourceFact,
		Score:      score,
		TokenCount: f.TokenCount,
		Timestamp:  f.CreatedAt,
	}
}

// allocateBudget reserves a share of the budget for the current
// episode, then admits marked turns, then facts and vector candidates,
// greedily in score order.
func allocateBudget(current, marked, factsAndVectors []candidate, totalBudget int, currentEpisodePct float64) []acms.ContextItem {
	currentBudget := int(float64(totalBudget) * currentEpisodePct)

	var out []acms.ContextItem
	used := 0

	selectedCurrent := selectCurrentEpisode(current, currentBudget)
	for _, c := range selectedCurrent {
		out = append(out, c.item)
		used += c.item.TokenCount
	}

	remaining := totalBudget - used
	var admittedMarked []candidate
	for _, c := range marked {
		if c.item.TokenCount <= remaining {
			admittedMarked = append(admittedMarked, c)
			remaining -= c.item.TokenCount
		}
	}
	for _, c := range admittedMarked {
		out = append(out, c.item)
	}

	for _, c := range factsAndVectors {
		if c.item.TokenCount <= remaining {
			out = append(out, c.item)
			remaining -= c.item.TokenCount
		}
	}

	return out
}

// selectCurrentEpisode applies the reservation overflow rule: if the
// episode's turns fit within the reservation, emit them all in
// chronological order; otherwise keep every marked turn that fits, fill
// the rest with the most recent unmarked turns, and emit the selection
// back in position order.
func selectCurrentEpisode(turns []candidate, budget int) []candidate {
	total := 0
	for _, t := range turns {
		total += t.item.TokenCount
	}
	if total <= budget {
		return turns
	}

	var markedTurns, unmarkedTurns []candidate
	for _, t := range turns {
		if len(t.item.Markers) > 0 {
			markedTurns = append(markedTurns, t)
		} else {
			unmarkedTurns = append(unmarkedTurns, t)
		}
	}

	selected := make(map[string]candidate)
	remaining := budget
	for _, t := range markedTurns {
		if t.item.TokenCount <= remaining {
			selected[t.turnID] = t
			remaining -= t.item.TokenCount
		}
	}

	sort.SliceStable(unmarkedTurns, func(i, j int) bool {
		return unmarkedTurns[i].item.Timestamp.After(unmarkedTurns[j].item.Timestamp)
	})
	for _, t := range unmarkedTurns {
		if t.item.TokenCount <= remaining {
			selected[t.turnID] = t
			remaining -= t.item.TokenCount
		}
	}

	var out []candidate
	for _, t := range turns {
		if _, ok := selected[t.turnID]; ok {
			out = append(out, t)
		}
	}
	return out
}
