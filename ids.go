package acms

import "github.com/google/uuid"

// Entity IDs are a per-kind prefix plus a uuid. A uuid needs no atomic
// counter to stay collision-free across goroutines, and the prefix makes
// an ID self-describing in logs and traces.

func newPrefixedID(prefix string) string {
	return prefix + uuid.NewString()
}

// NewTurnID generates a unique turn identifier.
func NewTurnID() string { return newPrefixedID("turn_") }

// NewEpisodeID generates a unique episode identifier.
func NewEpisodeID() string { return newPrefixedID("ep_") }

// NewFactID generates a unique fact identifier.
func NewFactID() string { return newPrefixedID("fact_") }

// NewEmbeddingID generates a unique embedding record identifier.
func NewEmbeddingID() string { return newPrefixedID("emb_") }
