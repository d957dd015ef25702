// Package model manages the embedding model lifecycle: a curated catalog,
// one worker subprocess that hosts the currently loaded model, and the
// Embedder interface the rest of the daemon consumes. Only one model is
// resident at a time; switching folders with different models unloads the
// old one before loading the new.
package model

import (
	"context"
	"time"
)

// Worker lifecycle timeouts.
const (
	// LoadTimeout bounds a load_model call. A worker that cannot load
	// within this window is treated as crashed.
	LoadTimeout = 30 * time.Second

	// UnloadTimeout bounds an unload_model call, same crash semantics.
	UnloadTimeout = 30 * time.Second

	// HealthTimeout bounds a health_check call.
	HealthTimeout = 5 * time.Second

	// EmbedTimeout bounds one generate_embeddings batch.
	EmbedTimeout = 120 * time.Second

	// ShutdownGrace is how long a worker gets to exit cleanly before
	// being killed.
	ShutdownGrace = 5 * time.Second
)

// Embedding batch limits.
const (
	DefaultBatchSize = 32
	MaxBatchSize     = 256
)

// State is the worker lifecycle state.
type State int

const (
	// StateUninitialized means the subprocess has not completed the
	// initialize handshake.
	StateUninitialized State = iota
	// StateIdle means the worker is up with no model loaded.
	StateIdle
	// StateLoading means a load_model call is in flight.
	StateLoading
	// StateReady means a model is loaded and embedding requests flow.
	StateReady
	// StateUnloading means an unload_model call is in flight.
	StateUnloading
	// StateCrashed means the subprocess died or timed out a lifecycle
	// call. Terminal for this worker instance.
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUnloading:
		return "unloading"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}
