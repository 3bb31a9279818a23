// Package vectorindex persists ingredient embeddings in a bbolt file and
// answers nearest-neighbour queries by cosine similarity.
//
// Writes are serialized and committed in a single bbolt transaction. After
// each commit an immutable in-memory snapshot is published atomically, and
// queries read only that snapshot. A query therefore sees either the whole
// previous collection or the whole new one.
package vectorindex

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Entry is one indexed ingredient
type Entry struct {
	ID             string   `json:"id"` // ing_{rank}
	Rank           int      `json:"rank"`
	NameNormalized string   `json:"name_normalized"`
	Name           string   `json:"name"`
	Source         string   `json:"source"`
	FdcID          string   `json:"fdc_id,omitempty"`
	EnergyKcal     *float64 `json:"energy_kcal,omitempty"`
	ProteinG       *float64 `json:"protein_g,omitempty"`
	CarbohydratesG *float64 `json:"carbohydrates_g,omitempty"`
	FatG           *float64 `json:"fat_g,omitempty"`
	Document       string   `json:"document"`

	// Vector is stored apart from the JSON record
	Vector []float32 `json:"-"`
}

// Result is one query hit. Entry.Vector is not populated.
type Result struct {
	Entry      Entry
	Similarity float64
}

// Meta describes the persisted collection
type Meta struct {
	Dimension int       `json:"dimension"`
	Embedder  string    `json:"embedder"`
	Count     int       `json:"count"`
	BuiltAt   time.Time `json:"built_at"`
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector payload of %d bytes is not float32 aligned", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}
