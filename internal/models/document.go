package models

import (
	"strings"

	"github.com/google/uuid"
)

// SourceType tells which side of the job/candidate pair a document came from.
type SourceType string

const (
	SourceJob    SourceType = "job"
	SourceResume SourceType = "resume"
)

// Document is one raw input text. Treat it as immutable once created.
type Document struct {
	ID         string
	SourceType SourceType
	RawText    string
}

// NewDocument creates a document with a fresh identifier.
func NewDocument(source SourceType, text string) Document {
	return Document{
		ID:         uuid.NewString(),
		SourceType: source,
		RawText:    text,
	}
}

// Chunk is a bounded slice of a document used as the unit of embedding and retrieval.
type Chunk struct {
	ID          string
	DocumentID  string
	Source      SourceType
	Position    int
	Text        string
	StartOffset int
	EndOffset   int
	TokenCount  int
}

// EmbeddingVector pairs a chunk with its vector representation.
type EmbeddingVector struct {
	ChunkID   string
	Vector    []float32
	Dimension int
}

// Hit is one retrieved chunk and its similarity to the query.
type Hit struct {
	Chunk Chunk
	Score float64
}

// RetrievalResult is ordered highest similarity first and holds each chunk at most once.
type RetrievalResult []Hit

// ContextSeparator joins chunk texts inside a prompt's context block.
const ContextSeparator = "\n\n"

// ContextHeader opens the context block of the rendered user message.
const ContextHeader = "Relevant context:\n"

// Prompt is the typed input to a generation request. It is built fresh per request.
type Prompt struct {
	SystemInstructions string
	Context            []string
	TaskQuery          string
}

// ContextBlock joins the context texts in order.
func (p Prompt) ContextBlock() string {
	return strings.Join(p.Context, ContextSeparator)
}

// Len is the character length the prompt is budgeted on: the system
// instructions, a separator and the rendered UserMessage.
func (p Prompt) Len() int {
	n := len(p.SystemInstructions) + len(ContextSeparator) + len(p.TaskQuery)
	if len(p.Context) > 0 {
		n += len(ContextHeader)
	}
	for _, c := range p.Context {
		n += len(ContextSeparator) + len(c)
	}
	return n
}

// UserMessage renders the context block and task query as the human turn.
func (p Prompt) UserMessage() string {
	var b strings.Builder
	if len(p.Context) > 0 {
		b.WriteString(ContextHeader)
		b.WriteString(p.ContextBlock())
		b.WriteString(ContextSeparator)
	}
	b.WriteString(p.TaskQuery)
	return b.String()
}

// GeneratedEmail is the drafted outreach email handed back to the caller.
type GeneratedEmail struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Style   string `json:"style,omitempty"`
}
