package embedding

import (
	"context"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DefaultDimension is the vector length of the built-in embedder
const DefaultDimension = 384

const trigramWeight = 0.5

// HashEmbedder is an offline embedder based on signed feature hashing of
// word tokens and character trigrams. Texts that share words or word
// fragments land close together, which is enough for ingredient names.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a hashing embedder; dim <= 0 means DefaultDimension
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Name() string { return "hash-" + strconv.Itoa(h.dim) }

// Embed never fails except on a cancelled context
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	acc := make([]float64, h.dim)
	for _, word := range tokenize(text) {
		h.add(acc, "w:"+word, 1)

		padded := []rune("#" + word + "#")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(acc, "t:"+string(padded[i:i+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, h.dim)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func (h *HashEmbedder) add(acc []float64, feature string, weight float64) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(h.dim)
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

// tokenize lower-cases text and splits it into letter/digit runs. Numbers
// are kept so nutrient values in document text still contribute.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})
	tokens := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "."); f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
