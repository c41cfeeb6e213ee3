package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoercionPolicy decides what happens to a row whose amount cannot be parsed.
type CoercionPolicy int

const (
	// CoercionLenient keeps the row and stores NaN.
	CoercionLenient CoercionPolicy = iota
	// CoercionStrict rejects the row and reports it.
	CoercionStrict
)

func (p CoercionPolicy) String() string {
	if p == CoercionStrict {
		return "strict"
	}
	return "lenient"
}

func ParseCoercionPolicy(s string) (CoercionPolicy, error) {
	switch strings.ToLower(s) {
	case "", "lenient":
		return CoercionLenient, nil
	case "strict":
		return CoercionStrict, nil
	}
	return CoercionLenient, fmt.Errorf("unknown coercion policy %q", s)
}

// FieldResult is the outcome of coercing one cell to a number.
type FieldResult struct {
	Raw   string
	Value float64
	Err   error
}

func (r FieldResult) OK() bool {
	return r.Err == nil
}

// parseNumber parses a whole cell as a float after dropping thousands
// separators. Trailing text such as a currency suffix fails the cell rather
// than being cut off, so "123원" is reported instead of read as 123.
// Failures carry NaN.
func parseNumber(raw string) FieldResult {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" {
		return FieldResult{Raw: raw, Value: math.NaN(), Err: fmt.Errorf("empty value")}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return FieldResult{Raw: raw, Value: math.NaN(), Err: err}
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return FieldResult{Raw: raw, Value: math.NaN(), Err: fmt.Errorf("non-finite value %q", raw)}
	}
	return FieldResult{Raw: raw, Value: v}
}

var orderIDReplacer = strings.NewReplacer("=", "", `"`, "")

// sanitizeOrderID undoes the ="12345" spreadsheet escaping of order ids.
func sanitizeOrderID(raw string) string {
	return orderIDReplacer.Replace(raw)
}
