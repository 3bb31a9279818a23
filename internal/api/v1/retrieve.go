package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/nutrigraph/internal/catalog"
	"github.com/tphakala/nutrigraph/internal/retrieval"
)

// Bounds on top_k for the batch endpoint
const (
	DefaultTopK = 5
	MinTopK     = 1
	MaxTopK     = 50
)

// RetrieveRequest is the body of POST /api/v1/retrieve
type RetrieveRequest struct {
	Text string `json:"text"`
	K    int    `json:"k"` // zero or negative means the configured default
}

// RetrieveResponse lists the matches for one query, most similar first
type RetrieveResponse struct {
	Query   string            `json:"query"`
	K       int               `json:"k"`
	Results []retrieval.Match `json:"results"`
}

// IngredientRetrievalRequest is the body of POST /api/v1/ingredients/retrieve
type IngredientRetrievalRequest struct {
	Ingredients []string `json:"ingredients"`
	TopK        *int     `json:"top_k"`
}

// IngredientMatch is a single match in the batch response
type IngredientMatch struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Source         string   `json:"source"`
	Score          float64  `json:"score"`
	EnergyKcal     *float64 `json:"energy_kcal"`
	ProteinG       *float64 `json:"protein_g"`
	CarbohydratesG *float64 `json:"carbohydrates_g"`
	FatG           *float64 `json:"fat_g"`
	FdcID          *int64   `json:"fdc_id"`
}

// IngredientRetrievalResponse maps each trimmed query to its matches
type IngredientRetrievalResponse struct {
	Results map[string][]IngredientMatch `json:"results"`
}

// Retrieve handles POST /api/v1/retrieve
func (c *Controller) Retrieve(ctx echo.Context) error {
	var req RetrieveRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.HandleError(ctx, nil, "text is required", http.StatusBadRequest)
	}
	k := c.retriever.ClampK(req.K)
	matches, err := c.retriever.Retrieve(ctx.Request().Context(), req.Text, k)
	if err != nil {
		return c.handleRetrievalError(ctx, err)
	}
	if matches == nil {
		matches = []retrieval.Match{}
	}

	return ctx.JSON(http.StatusOK, RetrieveResponse{
		Query:   strings.TrimSpace(req.Text),
		K:       k,
		Results: matches,
	})
}

// RetrieveIngredients handles POST /api/v1/ingredients/retrieve. Blank
// entries are dropped; a list with nothing but blanks yields empty results.
func (c *Controller) RetrieveIngredients(ctx echo.Context) error {
	var req IngredientRetrievalRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if len(req.Ingredients) == 0 {
		return c.HandleError(ctx, nil, "ingredients must contain at least one entry", http.StatusBadRequest)
	}

	topK := DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if topK < MinTopK || topK > MaxTopK {
		return c.HandleError(ctx, nil, "top_k must be between 1 and 50", http.StatusBadRequest)
	}

	results, err := c.retriever.RetrieveMany(ctx.Request().Context(), req.Ingredients, topK)
	if err != nil {
		return c.handleRetrievalError(ctx, err)
	}

	out := make(map[string][]IngredientMatch, len(results))
	for query, matches := range results {
		converted := make([]IngredientMatch, len(matches))
		for i := range matches {
			converted[i] = toIngredientMatch(&matches[i])
		}
		out[query] = converted
	}
	return ctx.JSON(http.StatusOK, IngredientRetrievalResponse{Results: out})
}

func toIngredientMatch(m *retrieval.Match) IngredientMatch {
	out := IngredientMatch{
		ID:             m.ID,
		Name:           m.Name,
		Source:         m.Source,
		Score:          m.Similarity,
		EnergyKcal:     m.EnergyKcal,
		ProteinG:       m.ProteinG,
		CarbohydratesG: m.CarbohydratesG,
		FatG:           m.FatG,
	}
	// OpenFoodFacts barcodes and missing ids stay null
	if id, err := strconv.ParseInt(m.FdcID, 10, 64); err == nil && m.Source != string(catalog.SourceOpenFoodFacts) {
		out.FdcID = &id
	}
	return out
}
