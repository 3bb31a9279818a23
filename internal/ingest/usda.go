package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tphakala/nutrigraph/internal/errors"
)

// FoodData Central nutrient ids
const (
	nutrientProtein      = 1003
	nutrientFat          = 1004
	nutrientCarbohydrate = 1005
	nutrientEnergy       = 1008
)

// ctxCheckInterval is how many records are decoded between context checks
const ctxCheckInterval = 1024

// rootKeys lists the accepted root object keys per USDA dataset
var rootKeys = map[SourceID][]string{
	SourceFoundation: {"FoundationFoods", "foundationFoods"},
	SourceSRLegacy:   {"SRLegacyFoods", "SR Legacy Food", "srLegacyFood"},
}

type usdaFood struct {
	FdcID         json.RawMessage    `json:"fdcId"`
	Description   string             `json:"description"`
	FoodNutrients []usdaFoodNutrient `json:"foodNutrients"`
}

type usdaFoodNutrient struct {
	Nutrient struct {
		ID json.Number `json:"id"`
	} `json:"nutrient"`
	Amount json.RawMessage `json:"amount"`
}

// ParseUSDA streams a FoodData Central JSON export. The input is either a
// root object holding the food array under one of the dataset's known keys,
// or a bare array. The first matching key is used; other keys are skipped
// without being buffered.
func ParseUSDA(ctx context.Context, r io.Reader, kind SourceID, yield YieldFunc) (Stats, error) {
	stats := newStats(kind)

	keys, ok := rootKeys[kind]
	if !ok {
		return stats, errors.Newf("source %q is not a USDA dataset", kind).
			Component("ingest").
			Category(errors.CategoryValidation).
			Build()
	}

	dec := json.NewDecoder(r)

	if err := seekFoodArray(dec, keys); err != nil {
		return stats, formatError(err, kind)
	}

	for n := 0; dec.More(); n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		// only a syntax error is fatal, a well-formed element that does not
		// fit usdaFood is one skipped record
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return stats, formatError(fmt.Errorf("decode food %d: %w", n, err), kind)
		}

		var food usdaFood
		if err := json.Unmarshal(raw, &food); err != nil {
			stats.skip(SkipMalformedRow)
			continue
		}

		record, reason := food.toRecord(kind)
		if reason != "" {
			stats.skip(reason)
			continue
		}

		if err := yield(record); err != nil {
			return stats, err
		}
		stats.Accepted++
	}

	// closing bracket of the food array
	if _, err := dec.Token(); err != nil {
		return stats, formatError(fmt.Errorf("unterminated food array: %w", err), kind)
	}

	return stats, nil
}

// seekFoodArray advances dec to just inside the food array
func seekFoodArray(dec *json.Decoder, keys []string) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read root: %w", err)
	}

	switch tok {
	case json.Delim('['):
		return nil
	case json.Delim('{'):
	default:
		return fmt.Errorf("root must be an object or array, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read root key: %w", err)
		}
		key, _ := keyTok.(string)

		if !isRootKey(key, keys) {
			if err := skipValue(dec); err != nil {
				return fmt.Errorf("skip root key %q: %w", key, err)
			}
			continue
		}

		valTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read %q: %w", key, err)
		}
		if valTok != json.Delim('[') {
			return fmt.Errorf("root key %q does not hold an array", key)
		}
		return nil
	}

	return fmt.Errorf("no food array under any of %s", strings.Join(keys, ", "))
}

func isRootKey(key string, keys []string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// skipValue consumes one complete JSON value token by token
func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
		if depth == 0 {
			return nil
		}
	}
}

func (f *usdaFood) toRecord(kind SourceID) (RawFoodRecord, SkipReason) {
	id, ok := parseFdcID(f.FdcID)
	if !ok {
		return RawFoodRecord{}, SkipMissingID
	}
	name := strings.TrimSpace(f.Description)
	if name == "" {
		return RawFoodRecord{}, SkipMissingName
	}

	record := RawFoodRecord{Source: kind, ExternalID: id, RawName: name}

	for i := range f.FoodNutrients {
		fn := &f.FoodNutrients[i]
		nid, err := fn.Nutrient.ID.Int64()
		if err != nil {
			continue
		}

		var target **float64
		switch nid {
		case nutrientEnergy:
			target = &record.Nutrients.EnergyKcal
		case nutrientProtein:
			target = &record.Nutrients.ProteinG
		case nutrientCarbohydrate:
			target = &record.Nutrients.CarbohydratesG
		case nutrientFat:
			target = &record.Nutrients.FatG
		default:
			continue
		}

		amount, present, err := parseAmount(fn.Amount)
		if err != nil {
			return RawFoodRecord{}, SkipBadNumber
		}
		if present {
			// later entries for the same nutrient win
			*target = float64Ptr(amount)
		}
	}

	return record, ""
}

// parseAmount reads a JSON number; null or a missing field is absent
func parseAmount(raw json.RawMessage) (float64, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false, fmt.Errorf("amount %s: %w", raw, err)
	}
	return v, true, nil
}

// parseFdcID accepts a positive integer, bare or quoted. Anything else,
// including null and "abc", is treated as a missing id.
func parseFdcID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", false
		}
		text = strings.TrimSpace(text)
	}
	id, err := strconv.ParseUint(text, 10, 64)
	if err != nil || id == 0 {
		return "", false
	}
	return strconv.FormatUint(id, 10), true
}
