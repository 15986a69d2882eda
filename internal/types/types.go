package types

import (
	"context"

	"github.com/xhad/reachout/internal/models"
)

// Core interfaces

// Embedder maps texts to fixed-dimension vectors, one per input, order preserved.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// TextModel is a generative model taking a system and a user turn.
type TextModel interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Generator drafts an email from an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt models.Prompt) (models.GeneratedEmail, error)
}

// ArchivedChunk is a chunk persisted by an Archive together with its vector.
type ArchivedChunk struct {
	SessionID string
	Chunk     models.Chunk
	Vector    []float32
}

// SessionRecord is everything a drafting session produced.
type SessionRecord struct {
	ID     string
	Chunks []ArchivedChunk
	Email  models.GeneratedEmail
}

// Archive keeps drafted sessions for later lookup.
type Archive interface {
	Save(ctx context.Context, rec SessionRecord) error
	Similar(ctx context.Context, vector []float32, limit int) ([]models.Hit, error)
	Close()
}
