package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/copyleftdev/steptune/internal/errors"
	"github.com/copyleftdev/steptune/internal/optimization"
)

// record is the on-disk layout. A missing best value and an infinite best
// time are both written as null.
type record struct {
	Low      int64    `json:"low"`
	High     int64    `json:"high"`
	BestVal  *int64   `json:"best_val"`
	BestTime *float64 `json:"best_time"`
}

// nonFinite matches the bare Infinity/NaN tokens some JSON writers emit.
var nonFinite = regexp.MustCompile(`(:\s*)(-?Infinity|NaN)\b`)

// Encode serialises state as indented JSON with a trailing newline.
func Encode(s optimization.State) ([]byte, error) {
	rec := record{
		Low:     s.Bounds.Low,
		High:    s.Bounds.High,
		BestVal: s.BestVal,
	}
	if !math.IsInf(s.BestTime, 0) && !math.IsNaN(s.BestTime) {
		t := s.BestTime
		rec.BestTime = &t
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode parses a snapshot. Missing fields take their value from defaults;
// anything present but malformed is reported as state corruption.
func Decode(data []byte, defaults optimization.Bounds) (optimization.State, error) {
	data = nonFinite.ReplaceAll(data, []byte("${1}null"))

	if !gjson.ValidBytes(data) {
		return optimization.State{}, corruption("invalid JSON")
	}
	doc := gjson.ParseBytes(bytes.TrimSpace(data))
	if !doc.IsObject() {
		return optimization.State{}, corruption("expected a JSON object")
	}

	s := optimization.DefaultState(defaults)

	var err error
	if s.Bounds.Low, err = intField(doc, "low", defaults.Low); err != nil {
		return optimization.State{}, err
	}
	if s.Bounds.High, err = intField(doc, "high", defaults.High); err != nil {
		return optimization.State{}, err
	}
	if err := s.Bounds.Validate(); err != nil {
		return optimization.State{}, corruption(err.Error())
	}

	if v := doc.Get("best_val"); v.Exists() && v.Type != gjson.Null {
		best, err := intValue(v, "best_val")
		if err != nil {
			return optimization.State{}, err
		}
		s.BestVal = &best
	}

	if v := doc.Get("best_time"); v.Exists() && v.Type != gjson.Null {
		if v.Type != gjson.Number {
			return optimization.State{}, corruption(fmt.Sprintf("best_time: expected number, got %s", v.Type))
		}
		s.BestTime = v.Num
	}

	return s, nil
}

func intField(doc gjson.Result, key string, def int64) (int64, error) {
	v := doc.Get(key)
	if !v.Exists() {
		return def, nil
	}
	return intValue(v, key)
}

func intValue(v gjson.Result, key string) (int64, error) {
	if v.Type != gjson.Number {
		return 0, corruption(fmt.Sprintf("%s: expected integer, got %s", key, v.Type))
	}
	n, err := strconv.ParseInt(v.Raw, 10, 64)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, corruption(fmt.Sprintf("%s: integer out of range: %s", key, v.Raw))
	}
	// Exponent or decimal notation.
	if v.Num != math.Trunc(v.Num) {
		return 0, corruption(fmt.Sprintf("%s: expected integer, got %s", key, v.Raw))
	}
	if v.Num < math.MinInt64 || v.Num >= math.MaxInt64 {
		return 0, corruption(fmt.Sprintf("%s: integer out of range: %s", key, v.Raw))
	}
	return int64(v.Num), nil
}

func corruption(msg string) error {
	return errors.New(msg).
		WithKind(errors.KindStateCorruption).
		WithComponent("state").
		WithOperation("decode")
}
