// Package reflect implements the reflection runner: the carry-forward
// buffer, the legacy/consolidation dispatch, scoping, coverage
// validation, and action application that turn closed episodes into
// L2 facts.
package reflect

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/acmserr"
	"github.com/Saket-Kr/acms/embedding"
	"github.com/Saket-Kr/acms/log"
	"github.com/Saket-Kr/acms/retry"
	"github.com/Saket-Kr/acms/storage"
	"github.com/Saket-Kr/acms/tokencount"
)

// CandidateFact is one fact returned by the legacy Reflector protocol.
type CandidateFact struct {
	Content    string
	FactType   acms.MarkerType
	Confidence float64
}

// ActionKind identifies a consolidation action.
type ActionKind string

const (
	ActionKeep   ActionKind = "keep"
	ActionAdd    ActionKind = "add"
	ActionUpdate ActionKind = "update"
	ActionRemove ActionKind = "remove"
)

// ConsolidationAction is one instruction returned by a
// ConsolidatingReflector over a scoped set of prior facts.
type ConsolidationAction struct {
	Action       ActionKind
	Content      string
	FactType     acms.MarkerType
	Confidence   float64
	SourceFactID string
	Reason       string
}

// Reflector is the base provider protocol: distill facts from an
// episode's turns with no awareness of prior facts.
type Reflector interface {
	Reflect(ctx context.Context, episode *acms.Episode, turns []*acms.Turn) ([]CandidateFact, error)
}

// ConsolidatingReflector is an optional capability, detected via a type
// assertion on a Reflector: given a scope of prior active facts, return
// actions that keep, update, add, or remove them.
type ConsolidatingReflector interface {
	ReflectWithConsolidation(ctx context.Context, episode *acms.Episode, turns []*acms.Turn, priorFacts []*acms.Fact) ([]ConsolidationAction, error)
}

// Mode selects whether HandleEpisodeClosed runs reflection inline
// (the caller awaits) or schedules it as a tracked background task.
type Mode int

const (
	ModeInline Mode = iota
	ModeBackground
)

// TraceMode names which dispatch path a Trace describes.
type TraceMode string

const (
	TraceLegacy        TraceMode = "legacy"
	TraceConsolidation TraceMode = "consolidation"
)

// Trace describes one reflection invocation, delivered to a
// caller-installed callback for observability.
type Trace struct {
	EpisodeID       string
	Mode            TraceMode
	InputTurnCount  int
	TurnDump        []string
	PriorFactDump   []string
	ScopedFactCount int
	RawFacts        []CandidateFact
	RawActions      []ConsolidationAction
	SavedFacts      []string
	SupersededFacts []string
	ElapsedMillis   int64
}

// TraceFunc receives a Trace after each reflection invocation.
type TraceFunc func(Trace)

// Runner owns the carry-forward buffer and drives the reflection
// dispatch for one session.
type Runner struct {
	sessionID string
	store     storage.Storage
	embedder  embedding.Embedder
	reflector Reflector
	counter   tokencount.Counter
	config    *acms.Config
	logger    log.Logger
	mode      Mode

	mu             sync.Mutex
	buffer         []*acms.Turn
	lastEpisodeID  string
	trace          TraceFunc
	pendingWG      sync.WaitGroup
	pendingCancels []context.CancelFunc
}

// NewRunner creates a reflection runner for sessionID.
func NewRunner(sessionID string, store storage.Storage, embedder embedding.Embedder, reflector Reflector, counter tokencount.Counter, config *acms.Config, logger log.Logger, mode Mode) *Runner {
	return &Runner{
		sessionID: sessionID,
		store:     store,
		embedder:  embedder,
		reflector: reflector,
		counter:   counter,
		config:    config,
		logger:    logger,
		mode:      mode,
	}
}

// SetTrace installs a trace callback. Callback panics are recovered
// and logged; tracing is best-effort.
func (r *Runner) SetTrace(fn TraceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = fn
}

// HandleEpisodeClosed is the episode manager's on-close callback. It
// loads the closed episode's turns, applies the carry-forward
// threshold, and dispatches to the legacy or consolidation path —
// inline or as a tracked background task per r.mode.
func (r *Runner) HandleEpisodeClosed(ctx context.Context, episodeID string) {
	if !r.config.Reflection.Enabled || r.reflector == nil {
		return
	}

	if r.mode == ModeInline {
		r.reflectEpisode(ctx, episodeID)
		return
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.pendingCancels = append(r.pendingCancels, cancel)
	r.mu.Unlock()
	r.pendingWG.Add(1)
	go func() {
		defer r.pendingWG.Done()
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil && r.logger != nil {
				r.logger.Error("reflect: background reflection panicked", "episode_id", episodeID, "panic", rec)
			}
		}()
		r.reflectEpisode(bgCtx, episodeID)
	}()
}

// WaitPending blocks until every background reflection task started so
// far has completed.
func (r *Runner) WaitPending() {
	r.pendingWG.Wait()
}

// CancelPending cancels every in-flight background reflection task's
// context. In-flight storage and provider calls may still complete.
func (r *Runner) CancelPending() {
	r.mu.Lock()
	cancels := r.pendingCancels
	r.pendingCancels = nil
	r.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (r *Runner) reflectEpisode(ctx context.Context, episodeID string) {
	ep, err := r.store.GetEpisode(ctx, episodeID)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("reflect: loading closed episode failed", "episode_id", episodeID, "error", err)
		}
		return
	}
	turns, err := r.store.GetTurnsByEpisode(ctx, episodeID)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("reflect: loading episode turns failed", "episode_id", episodeID, "error", err)
		}
		return
	}

	r.mu.Lock()
	combined := append(append([]*acms.Turn(nil), r.buffer...), turns...)
	if len(combined) < r.config.Reflection.MinEpisodeTurns {
		r.buffer = combined
		r.lastEpisodeID = episodeID
		r.mu.Unlock()
		return
	}
	r.buffer = nil
	r.lastEpisodeID = episodeID
	r.mu.Unlock()

	if err := r.reflectCombined(ctx, ep, combined); err != nil && r.logger != nil {
		r.logger.Error("reflect: reflection failed", "episode_id", episodeID, "error", err)
	}
}

// Flush force-reflects the carry-forward buffer, bypassing
// min_episode_turns, during session close. Failures are logged and
// swallowed.
func (r *Runner) Flush(ctx context.Context) {
	r.mu.Lock()
	combined := r.buffer
	episodeID := r.lastEpisodeID
	r.buffer = nil
	r.mu.Unlock()

	if len(combined) == 0 || r.reflector == nil || !r.config.Reflection.Enabled {
		return
	}

	ep := &acms.Episode{ID: episodeID, SessionID: r.sessionID}
	if episodeID != "" {
		if loaded, err := r.store.GetEpisode(ctx, episodeID); err == nil {
			ep = loaded
		}
	}
	if err := r.reflectCombined(ctx, ep, combined); err != nil && r.logger != nil {
		r.logger.Error("reflect: flush failed", "error", err)
	}
}

func (r *Runner) reflectCombined(ctx context.Context, ep *acms.Episode, combined []*acms.Turn) error {
	consolidator, canConsolidate := r.reflector.(ConsolidatingReflector)
	priorFacts, err := r.store.GetActiveFactsBySession(ctx, r.sessionID)
	if err != nil {
		return acmserr.NewReflectionError(ep.ID, err)
	}

	if canConsolidate && len(priorFacts) > 0 {
		return r.consolidationPath(ctx, ep, combined, consolidator, priorFacts)
	}
	return r.legacyPath(ctx, ep, combined)
}

func (r *Runner) legacyPath(ctx context.Context, ep *acms.Episode, combined []*acms.Turn) error {
	start := time.Now()
	var rawFacts []CandidateFact
	err := retry.Do(ctx, retry.ReflectorPolicy, func() error {
		facts, e := r.reflector.Reflect(ctx, ep, combined)
		rawFacts = facts
		return e
	})
	if err != nil {
		return acmserr.NewReflectionError(ep.ID, err)
	}

	var saved []string
	limit := r.config.Reflection.MaxFactsPerEpisode
	for i, cf := range rawFacts {
		if i >= limit {
			break
		}
		if cf.Confidence < r.config.Reflection.MinConfidence {
			continue
		}
		fact := &acms.Fact{
			ID:         acms.NewFactID(),
			SessionID:  r.sessionID,
			EpisodeID:  ep.ID,
			Content:    cf.Content,
			CreatedAt:  time.Now(),
			FactType:   cf.FactType,
			Confidence: cf.Confidence,
			TokenCount: r.counter.Count(cf.Content),
		}
		r.embedFact(ctx, fact)
		if err := r.store.SaveFact(ctx, fact); err != nil {
			return acmserr.NewReflectionError(ep.ID, err)
		}
		saved = append(saved, fact.ID)
	}

	r.emitTrace(Trace{
		EpisodeID:      ep.ID,
		Mode:           TraceLegacy,
		InputTurnCount: len(combined),
		TurnDump:       dumpTurns(combined),
		RawFacts:       rawFacts,
		SavedFacts:     saved,
		ElapsedMillis:  time.Since(start).Milliseconds(),
	})
	return nil
}

func (r *Runner) consolidationPath(ctx context.Context, ep *acms.Episode, combined []*acms.Turn, consolidator ConsolidatingReflector, priorFacts []*acms.Fact) error {
	start := time.Now()

	scoped, err := r.scopeFacts(ctx, combined, priorFacts)
	if err != nil {
		return acmserr.NewReflectionError(ep.ID, err)
	}

	var rawActions []ConsolidationAction
	err = retry.Do(ctx, retry.ReflectorPolicy, func() error {
		actions, e := consolidator.ReflectWithConsolidation(ctx, ep, combined, scoped)
		rawActions = actions
		return e
	})
	if err != nil {
		return acmserr.NewReflectionError(ep.ID, err)
	}

	if len(rawActions) == 0 {
		if r.logger != nil {
			r.logger.Warn("reflect: consolidation returned no actions, falling back to legacy", "episode_id", ep.ID)
		}
		return r.legacyPath(ctx, ep, combined)
	}

	r.checkCoverage(ep.ID, scoped, rawActions)

	scopedByID := make(map[string]*acms.Fact, len(scoped))
	for _, f := range scoped {
		scopedByID[f.ID] = f
	}

	var saved, superseded []string
	for _, action := range rawActions {
		switch action.Action {
		case ActionKeep:
			// no state change
		case ActionAdd:
			id, err := r.applyAdd(ctx, ep, action, priorFacts)
			if err != nil {
				return acmserr.NewReflectionError(ep.ID, err)
			}
			if id != "" {
				saved = append(saved, id)
			}
		case ActionUpdate:
			newID, oldID, err := r.applyUpdate(ctx, ep, action, scopedByID)
			if err != nil {
				return acmserr.NewReflectionError(ep.ID, err)
			}
			if newID != "" {
				saved = append(saved, newID)
				superseded = append(superseded, oldID)
			}
		case ActionRemove:
			oldID, err := r.applyRemove(ctx, ep, action, scopedByID)
			if err != nil {
				return acmserr.NewReflectionError(ep.ID, err)
			}
			if oldID != "" {
				superseded = append(superseded, oldID)
			}
		default:
			if r.logger != nil {
				r.logger.Warn("reflect: unknown action kind, skipping", "episode_id", ep.ID, "action", action.Action)
			}
		}
	}

	r.emitTrace(Trace{
		EpisodeID:       ep.ID,
		Mode:            TraceConsolidation,
		InputTurnCount:  len(combined),
		TurnDump:        dumpTurns(combined),
		PriorFactDump:   dumpFacts(priorFacts),
		ScopedFactCount: len(scoped),
		RawActions:      rawActions,
		SavedFacts:      saved,
		SupersededFacts: superseded,
		ElapsedMillis:   time.Since(start).Milliseconds(),
	})
	return nil
}

// scopeFacts selects the prior active facts relevant to the closing
// episode: facts without embeddings are included unconditionally, the
// rest by cosine similarity against the combined turn text. A query
// vector with no signal, or an empty result, falls back to the full
// prior set.
func (r *Runner) scopeFacts(ctx context.Context, combined []*acms.Turn, priorFacts []*acms.Fact) ([]*acms.Fact, error) {
	if len(priorFacts) == 0 {
		return nil, nil
	}

	var text strings.Builder
	for _, t := range combined {
		text.WriteString(t.Content)
		text.WriteString("\n")
	}

	queryVector := r.embedText(ctx, text.String())
	if embedding.IsZeroVector(queryVector) {
		return priorFacts, nil
	}

	var scoped []*acms.Fact
	for _, f := range priorFacts {
		if f.EmbeddingID == "" {
			scoped = append(scoped, f)
			continue
		}
		rec, err := r.store.GetEmbedding(ctx, f.EmbeddingID)
		if err != nil {
			scoped = append(scoped, f)
			continue
		}
		if embedding.Cosine(queryVector, rec.Vector) >= r.config.Reflection.ConsolidationSimilarityThreshold {
			scoped = append(scoped, f)
		}
	}
	if len(scoped) == 0 {
		return priorFacts, nil
	}
	return scoped, nil
}

func (r *Runner) applyAdd(ctx context.Context, ep *acms.Episode, action ConsolidationAction, priorFacts []*acms.Fact) (string, error) {
	if action.Confidence < r.config.Reflection.MinConfidence {
		return "", nil
	}
	fact := &acms.Fact{
		ID:         acms.NewFactID(),
		SessionID:  r.sessionID,
		EpisodeID:  ep.ID,
		Content:    action.Content,
		CreatedAt:  time.Now(),
		FactType:   action.FactType,
		Confidence: action.Confidence,
		TokenCount: r.counter.Count(action.Content),
	}

	if r.config.Reflection.DedupSimilarityThreshold < 1.0 {
		vector := r.embedText(ctx, fact.Content)
		if !embedding.IsZeroVector(vector) {
			for _, existing := range priorFacts {
				if existing.EmbeddingID == "" {
					continue
				}
				rec, err := r.store.GetEmbedding(ctx, existing.EmbeddingID)
				if err != nil {
					continue
				}
				if embedding.Cosine(vector, rec.Vector) >= r.config.Reflection.DedupSimilarityThreshold {
					if r.logger != nil {
						r.logger.Debug("reflect: skipping duplicate fact", "episode_id", ep.ID, "content", fact.Content)
					}
					return "", nil
				}
			}
		}
	}

	r.embedFact(ctx, fact)
	if err := r.store.SaveFact(ctx, fact); err != nil {
		return "", err
	}
	return fact.ID, nil
}

func (r *Runner) applyUpdate(ctx context.Context, ep *acms.Episode, action ConsolidationAction, scoped map[string]*acms.Fact) (newID, oldID string, err error) {
	old, ok := scoped[action.SourceFactID]
	if !ok {
		if r.logger != nil {
			r.logger.Warn("reflect: UPDATE references unknown fact, skipping", "episode_id", ep.ID, "source_fact_id", action.SourceFactID)
		}
		return "", "", nil
	}
	if action.Confidence < r.config.Reflection.MinConfidence {
		return "", "", nil
	}

	fact := &acms.Fact{
		ID:         acms.NewFactID(),
		SessionID:  r.sessionID,
		EpisodeID:  ep.ID,
		Content:    action.Content,
		CreatedAt:  time.Now(),
		FactType:   action.FactType,
		Confidence: action.Confidence,
		TokenCount: r.counter.Count(action.Content),
		Supersedes: []string{old.ID},
	}
	r.embedFact(ctx, fact)
	if err := r.store.SaveFact(ctx, fact); err != nil {
		return "", "", err
	}

	old.SupersededBy = fact.ID
	if err := r.store.UpdateFact(ctx, old); err != nil {
		return "", "", err
	}
	return fact.ID, old.ID, nil
}

func (r *Runner) applyRemove(ctx context.Context, ep *acms.Episode, action ConsolidationAction, scoped map[string]*acms.Fact) (oldID string, err error) {
	old, ok := scoped[action.SourceFactID]
	if !ok {
		if r.logger != nil {
			r.logger.Warn("reflect: REMOVE references unknown fact, skipping", "episode_id", ep.ID, "source_fact_id", action.SourceFactID)
		}
		return "", nil
	}
	old.SupersededBy = acms.RemovedBySentinel(ep.ID)
	if err := r.store.UpdateFact(ctx, old); err != nil {
		return "", err
	}
	return old.ID, nil
}

// embedFact embeds fact.Content and, on success, saves the embedding
// and attaches its id. Failure is logged; the fact is still saved
// without an embedding.
func (r *Runner) embedFact(ctx context.Context, fact *acms.Fact) {
	vector := r.embedText(ctx, fact.Content)
	if len(vector) == 0 {
		return
	}
	embeddingID := acms.NewEmbeddingID()
	metadata := map[string]any{
		"session_id": r.sessionID,
		"episode_id": fact.EpisodeID,
		"fact_id":    fact.ID,
		"type":       string(acms.EmbeddingTypeFact),
		"fact_type":  string(fact.FactType),
	}
	if err := r.store.SaveEmbedding(ctx, embeddingID, vector, metadata); err != nil {
		if r.logger != nil {
			r.logger.Warn("reflect: saving fact embedding failed", "fact_id", fact.ID, "error", err)
		}
		return
	}
	fact.EmbeddingID = embeddingID
}

func (r *Runner) embedText(ctx context.Context, text string) []float64 {
	if r.embedder == nil {
		return nil
	}
	var resp *embedding.Response
	err := retry.Do(ctx, retry.EmbedderPolicy, func() error {
		res, e := r.embedder.Embed(ctx, []string{text})
		resp = res
		return e
	})
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("reflect: embedding failed", "error", err)
		}
		return nil
	}
	if len(resp.Vectors) == 0 {
		return nil
	}
	return resp.Vectors[0]
}

func (r *Runner) emitTrace(t Trace) {
	r.mu.Lock()
	fn := r.trace
	r.mu.Unlock()
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil && r.logger != nil {
			r.logger.Error("reflect: trace callback panicked", "panic", rec)
		}
	}()
	fn(t)
}

func dumpTurns(turns []*acms.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, truncate(t.Content, 200))
	}
	return out
}

func dumpFacts(facts []*acms.Fact) []string {
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		out = append(out, truncate(f.Content, 200))
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "this": true, "that": true, "it": true, "as": true, "by": true,
}

// extractKeywords lowercases, strips punctuation, removes stop words,
// and keeps tokens of length >= 3.
func extractKeywords(text string) map[string]bool {
	lower := strings.ToLower(text)
	tokens := nonWord.Split(lower, -1)
	out := make(map[string]bool)
	for _, tok := range tokens {
		if len(tok) < 3 || stopWords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

// checkCoverage warns (never aborts) for any scoped fact that is
// neither referenced by an action's source_fact_id nor at least 50%
// keyword-overlapped by the union of action contents.
func (r *Runner) checkCoverage(episodeID string, scoped []*acms.Fact, actions []ConsolidationAction) {
	if len(scoped) == 0 {
		return
	}
	referenced := make(map[string]bool, len(actions))
	unionKeywords := make(map[string]bool)
	for _, a := range actions {
		if a.SourceFactID != "" {
			referenced[a.SourceFactID] = true
		}
		for kw := range extractKeywords(a.Content) {
			unionKeywords[kw] = true
		}
	}

	for _, f := range scoped {
		if referenced[f.ID] {
			continue
		}
		factKeywords := extractKeywords(f.Content)
		if len(factKeywords) == 0 {
			continue
		}
		overlap := 0
		for kw := range factKeywords {
			if unionKeywords[kw] {
				overlap++
			}
		}
		ratio := float64(overlap) / float64(len(factKeywords))
		if ratio < 0.5 {
			if r.logger != nil {
				r.logger.Warn("reflect: scoped fact not covered by any action",
					"episode_id", episodeID, "fact_id", f.ID, "overlap_ratio", fmt.Sprintf("%.2f", ratio))
			}
		}
	}
}
