// Package testreflector provides deterministic, scriptable Reflector
// and ConsolidatingReflector implementations for end-to-end tests: a
// fixed sequence of canned responses replayed per call, with every
// invocation recorded for assertions.
//
// Scripted is a pure legacy reflector; ScriptedConsolidating
// additionally implements reflect.ConsolidatingReflector, so the
// runner's type assertion only succeeds for reflectors that actually
// opt in.
package testreflector

import (
	"context"
	"sync"

	"github.com/Saket-Kr/acms"
	"github.com/Saket-Kr/acms/reflect"
)

// LegacyCall records one Reflect invocation.
type LegacyCall struct {
	Episode *acms.Episode
	Turns   []*acms.Turn
}

// ConsolidationCall records one ReflectWithConsolidation invocation.
type ConsolidationCall struct {
	Episode    *acms.Episode
	Turns      []*acms.Turn
	PriorFacts []*acms.Fact
}

// Scripted is a reflect.Reflector that replays a fixed sequence of
// canned fact lists, one per call, in the order they were added.
type Scripted struct {
	mu        sync.Mutex
	responses [][]reflect.CandidateFact
	index     int

	LegacyCalls []LegacyCall
}

// New creates an empty scripted reflector. Use AddLegacyResponse to
// queue canned responses before use.
func New() *Scripted {
	return &Scripted{}
}

// AddLegacyResponse queues facts to be returned by the next Reflect call.
func (s *Scripted) AddLegacyResponse(facts ...reflect.CandidateFact) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, facts)
	return s
}

// Reflect implements reflect.Reflector, replaying the next queued
// response (or an empty slice once the script is exhausted).
func (s *Scripted) Reflect(ctx context.Context, episode *acms.Episode, turns []*acms.Turn) ([]reflect.CandidateFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LegacyCalls = append(s.LegacyCalls, LegacyCall{Episode: episode, Turns: turns})
	if s.index >= len(s.responses) {
		return nil, nil
	}
	facts := s.responses[s.index]
	s.index++
	return facts, nil
}

var _ reflect.Reflector = (*Scripted)(nil)

// ScriptedConsolidating wraps a Scripted legacy reflector (used for
// its fallback path) and additionally replays a fixed sequence of
// canned consolidation-action lists.
type ScriptedConsolidating struct {
	*Scripted

	mu        sync.Mutex
	responses [][]reflect.ConsolidationAction
	index     int

	ConsolidationCalls []ConsolidationCall
}

// NewConsolidating creates an empty scripted consolidating reflector.
func NewConsolidating() *ScriptedConsolidating {
	return &ScriptedConsolidating{Scripted: New()}
}

// AddConsolidationResponse queues actions to be returned by the next
// ReflectWithConsolidation call.
func (s *ScriptedConsolidating) AddConsolidationResponse(actions ...reflect.ConsolidationAction) *ScriptedConsolidating {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, actions)
	return s
}

// ReflectWithConsolidation implements reflect.ConsolidatingReflector,
// replaying the next queued consolidation response.
func (s *ScriptedConsolidating) ReflectWithConsolidation(ctx context.Context, episode *acms.Episode, turns []*acms.Turn, priorFacts []*acms.Fact) ([]reflect.ConsolidationAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConsolidationCalls = append(s.ConsolidationCalls, ConsolidationCall{Episode: episode, Turns: turns, PriorFacts: priorFacts})
	if s.index >= len(s.responses) {
		return nil, nil
	}
	actions := s.responses[s.index]
	s.index++
	return actions, nil
}

var _ reflect.Reflector = (*ScriptedConsolidating)(nil)
var _ reflect.ConsolidatingReflector = (*ScriptedConsolidating)(nil)
