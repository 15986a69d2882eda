package llm

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
)

// DefaultHashDimensions is the vector size of the local embedder.
const DefaultHashDimensions = 512

// HashEmbedder is an offline bag-of-words embedder. Each lowercased term is
// hashed into a fixed number of buckets with a signed weight and the result is
// L2-normalized, so equal texts always produce equal vectors.
type HashEmbedder struct {
	dim          int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewHashEmbedder creates a local embedder producing vectors of size dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimensions
	}
	return &HashEmbedder{
		dim:          dim,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}+#]*`),
		stopwords:    defaultStopwords(),
	}
}

// CreateEmbedding embeds every text. It never fails unless ctx is done.
func (h *HashEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(text)
	}
	return out, nil
}

// Embed makes HashEmbedder usable as a types.Embedder on its own.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return h.CreateEmbedding(ctx, texts)
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float64, h.dim)
	tf := make(map[string]int)
	for _, tok := range h.tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := h.stopwords[tok]; stop {
			continue
		}
		tf[tok]++
	}

	terms := make([]string, 0, len(tf))
	for term := range tf {
		terms = append(terms, term)
	}
	// fixed order keeps bucket sums bit-identical across calls
	sort.Strings(terms)

	for _, term := range terms {
		count := tf[term]
		hs := fnv.New64a()
		_, _ = hs.Write([]byte(term))
		sum := hs.Sum64()
		bucket := int(sum % uint64(h.dim))
		weight := 1 + math.Log(float64(count))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[bucket] += weight
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.dim)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "should", "now", "i", "we", "you", "our", "your",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
