package processor

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xhad/reachout/internal/models"
)

// Defaults are counted in whitespace-delimited tokens.
const (
	DefaultChunkSize    = 120
	DefaultChunkOverlap = 20
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// Processor turns documents into overlapping chunks.
type Processor struct {
	config ProcessorConfig
}

// NewWithConfig validates the config. A zero ChunkSize selects the defaults.
func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
		if config.ChunkOverlap == 0 {
			config.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if err := validate(config.ChunkSize, config.ChunkOverlap); err != nil {
		return nil, err
	}
	return &Processor{config: config}, nil
}

// Config returns the effective configuration.
func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// Process chunks a document. Chunk ids are "<document id>:<position>".
func (p *Processor) Process(doc models.Document) ([]models.Chunk, error) {
	chunks, err := Chunk(doc.RawText, p.config.ChunkSize, p.config.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].ID = fmt.Sprintf("%s:%d", doc.ID, chunks[i].Position)
		chunks[i].DocumentID = doc.ID
		chunks[i].Source = doc.SourceType
	}
	return chunks, nil
}

// Chunk splits text into segments of at most maxTokens tokens. Every chunk after
// the first repeats the trailing overlap tokens of its predecessor. Chunks end on
// a sentence or paragraph boundary when one leaves room for progress, otherwise
// they are cut at exactly maxTokens tokens.
func Chunk(text string, maxTokens, overlap int) ([]models.Chunk, error) {
	if err := validate(maxTokens, overlap); err != nil {
		return nil, err
	}

	toks := tokenize(text)
	n := len(toks)
	if n == 0 {
		return nil, nil
	}

	var chunks []models.Chunk
	start := 0
	for {
		end := start + maxTokens
		if end >= n {
			end = n
		} else {
			end = lastBoundary(toks, start+overlap, end)
		}

		startOff, endOff := toks[start].start, toks[end-1].end
		chunks = append(chunks, models.Chunk{
			Position:    len(chunks),
			Text:        text[startOff:endOff],
			StartOffset: startOff,
			EndOffset:   endOff,
			TokenCount:  end - start,
		})

		if end == n {
			break
		}
		start = end - overlap
	}

	return chunks, nil
}

func validate(maxTokens, overlap int) error {
	if maxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive, got %d", models.ErrInvalidConfig, maxTokens)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", models.ErrInvalidConfig, overlap)
	}
	if overlap >= maxTokens {
		return fmt.Errorf("%w: overlap %d must be less than max tokens %d", models.ErrInvalidConfig, overlap, maxTokens)
	}
	return nil
}

type token struct {
	start, end int
	boundary   bool // a sentence or paragraph ends after this token
}

// lastBoundary returns the largest exclusive end in (floor, limit] that falls on a
// boundary, or limit when there is none.
func lastBoundary(toks []token, floor, limit int) int {
	for b := limit; b > floor; b-- {
		if toks[b-1].boundary {
			return b
		}
	}
	return limit
}

func tokenize(text string) []token {
	var toks []token
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		start := i
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		toks = append(toks, token{start: start, end: i})
	}

	for j := range toks {
		if endsSentence(text[toks[j].start:toks[j].end]) {
			toks[j].boundary = true
			continue
		}
		if j+1 < len(toks) && strings.Count(text[toks[j].end:toks[j+1].start], "\n") >= 2 {
			toks[j].boundary = true
		}
	}
	return toks
}

func endsSentence(word string) bool {
	word = strings.TrimRight(word, `"')]`)
	if word == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(word)
	return r == '.' || r == '!' || r == '?'
}
