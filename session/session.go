// Package session wires storage, embedding, reflection, and the three
// core pipelines into a single per-conversation facade. Everything
// above this package talks to a *Session and never touches the
// pipelines directly.
//
// Lives in its own package rather than the acms root to avoid an import
// cycle: it depends on ingest, recall, episode, and reflect, all of
// which depend on the root acms package for shared types.
//
// A single mutex serializes every externally visible call, so one
// session behaves as a single logical actor; Close is idempotent and
// best-effort.
package session

import (
	"context"
	"sync"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/acmserr"
	"github.com/Saket-Kr/acms/embedding"
	"github.com/Saket-Kr/acms/episode"
	"github.com/Saket-Kr/acms/ingest"
	"github.com/Saket-Kr/acms/log"
	"github.com/Saket-Kr/acms/recall"
	"github.com/Saket-Kr/acms/reflect"
	"github.com/Saket-Kr/acms/storage"
	"github.com/Saket-Kr/acms/tokencount"
	"github.com/Saket-Kr/acms/validate"
)

// RecallOption configures a single Recall call. A thin alias over
// recall.Option so callers never need to import the recall package.
type RecallOption = recall.Option

// WithTokenBudget overrides the default token budget for this call.
func WithTokenBudget(budget int) RecallOption { return recall.WithTokenBudget(budget) }

// WithIncludeCurrentEpisode controls whether current-episode turns are
// considered (default true).
func WithIncludeCurrentEpisode(include bool) RecallOption {
	return recall.WithIncludeCurrentEpisode(include)
}

// WithMinRelevance sets the minimum relevance a vector candidate must
// meet to be considered.
func WithMinRelevance(min float64) RecallOption { return recall.WithMinRelevance(min) }

// Option configures a Session under construction.
type Option func(*settings)

// settings accumulates Option values before New assembles the pipelines.
// Kept separate from Session so construction-time-only knobs (reflector,
// reflection mode, trace) never leak into the facade's method set.
type settings struct {
	logger         log.Logger
	counter        tokencount.Counter
	reflector      reflect.Reflector
	reflectionMode reflect.Mode
	trace          reflect.TraceFunc
}

// WithLogger overrides the default logger (log.NewNullLogger()).
func WithLogger(logger log.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithTokenCounter overrides the default token counter
// (tokencount.NewHeuristic()).
func WithTokenCounter(counter tokencount.Counter) Option {
	return func(s *settings) { s.counter = counter }
}

// WithReflector supplies the reflect.Reflector (or
// reflect.ConsolidatingReflector) used by the reflection runner. Without
// one, reflection is a no-op: episodes close but no facts are ever
// distilled.
func WithReflector(reflector reflect.Reflector) Option {
	return func(s *settings) { s.reflector = reflector }
}

// WithReflectionMode selects inline vs. background reflection (default
// reflect.ModeInline).
func WithReflectionMode(mode reflect.Mode) Option {
	return func(s *settings) { s.reflectionMode = mode }
}

// WithReflectionTrace installs a callback invoked after every reflection
// pass, inline or background, with a full audit record.
func WithReflectionTrace(fn reflect.TraceFunc) Option {
	return func(s *settings) { s.trace = fn }
}

// Session is the externally visible ACMS facade for one conversation.
// Every exported method is safe for concurrent use. Ingest, Recall,
// CloseEpisode, GetSessionStats, CurrentEpisodeID and Close are
// serialized through mu: callers may issue them from multiple
// goroutines, but ACMS processes them as if they arrived one at a time.
// SessionID and CancelPendingReflection do not take mu.
type Session struct {
	mu sync.Mutex

	id     string
	store  storage.Storage
	config *acms.Config
	logger log.Logger

	episodes  *episode.Manager
	ingestor  *ingest.Pipeline
	recaller  *recall.Pipeline
	reflector *reflect.Runner

	closed bool
}

// New constructs and initializes a Session for sessionID. store and
// config are required; embedder may be nil to disable the semantic
// signal entirely (ACMS degrades to marker-only recall).
func New(sessionID string, store storage.Storage, embedder embedding.Embedder, config *acms.Config, opts ...Option) (*Session, error) {
	if store == nil {
		return nil, acmserr.NewConfigurationError("store", "must not be nil")
	}
	if config == nil {
		return nil, acmserr.NewConfigurationError("config", "must not be nil")
	}
	if err := validate.SessionID(sessionID); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	set := settings{
		logger:         log.NewNullLogger(),
		counter:        tokencount.NewHeuristic(),
		reflectionMode: reflect.ModeInline,
	}
	for _, opt := range opts {
		opt(&set)
	}

	episodes := episode.New(sessionID, store, config.EpisodeBoundary, set.logger)

	var reflector *reflect.Runner
	if set.reflector != nil {
		reflector = reflect.NewRunner(sessionID, store, embedder, set.reflector, set.counter, config, set.logger, set.reflectionMode)
		if set.trace != nil {
			reflector.SetTrace(set.trace)
		}
		episodes.SetOnClose(reflector.HandleEpisodeClosed)
	}

	sess := &Session{
		id:        sessionID,
		store:     store,
		config:    config,
		logger:    set.logger,
		episodes:  episodes,
		ingestor:  ingest.New(sessionID, store, embedder, set.counter, episodes, config, set.logger),
		recaller:  recall.New(sessionID, store, embedder, episodes, config, set.logger),
		reflector: reflector,
	}
	return sess, nil
}

// SessionID returns the session's unique identifier.
func (s *Session) SessionID() string {
	return s.id
}

// CurrentEpisodeID returns the ID of the currently open episode, or ""
// if none is open.
func (s *Session) CurrentEpisodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.episodes.CurrentEpisodeID()
}

// IngestInput carries the fields a caller supplies for one Ingest call.
// A thin wrapper over ingest.Input so callers of this package never need
// to import the ingest package directly.
type IngestInput struct {
	Role            string
	Content         string
	ActorID         string
	ExplicitMarkers []string
	Metadata        map[string]any
}

// Ingest runs the ingestion pipeline for one turn: validate, assign to
// an episode (closing the previous one and triggering reflection if a
// boundary fires), embed, persist.
func (s *Session) Ingest(ctx context.Context, in IngestInput) (*acms.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, acmserr.ErrSessionClosed
	}
	return s.ingestor.Ingest(ctx, ingest.Input{
		Role:            in.Role,
		Content:         in.Content,
		ActorID:         in.ActorID,
		ExplicitMarkers: in.ExplicitMarkers,
		Metadata:        in.Metadata,
	})
}

// Recall runs the recall pipeline for query, returning the admitted
// ContextItems under the configured token budget.
func (s *Session) Recall(ctx context.Context, query string, opts ...RecallOption) ([]acms.ContextItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, acmserr.ErrSessionClosed
	}
	return s.recaller.Recall(ctx, query, opts...)
}

// CloseEpisode force-closes the currently open episode with the given
// reason, returning its ID. Returns "" if no episode was open. Triggers
// reflection the same way a boundary-fired close would.
func (s *Session) CloseEpisode(ctx context.Context, reason string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", acmserr.ErrSessionClosed
	}
	return s.episodes.CloseCurrent(ctx, reason)
}

// GetSessionStats returns a summary of the session's memory state.
func (s *Session) GetSessionStats(ctx context.Context) (acms.SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return acms.SessionStats{}, acmserr.ErrSessionClosed
	}
	return s.store.GetSessionStats(ctx, s.id)
}

// CancelPendingReflection cancels every in-flight background reflection
// task's context. In-flight storage and provider calls may complete.
func (s *Session) CancelPendingReflection() {
	if s.reflector != nil {
		s.reflector.CancelPending()
	}
}

// Close finalizes the session: closes any open episode (triggering a
// last reflection pass), flushes the reflection runner's carry-forward
// buffer, waits for background reflection to finish, and closes the
// storage backend. Idempotent and best-effort: the first error
// encountered is returned, but every step still runs. Safe to call
// multiple times; subsequent calls return nil without redoing the work.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if _, err := s.episodes.CloseCurrent(ctx, "session_closed"); err != nil {
		record(err)
	}
	if s.reflector != nil {
		s.reflector.Flush(ctx)
		s.reflector.WaitPending()
	}
	record(s.store.Close(ctx))
	return firstErr
}
