package core

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Matches evaluates a single rule against a product.
//
// Configuration errors (unknown field, operator invalid for the field's
// type, malformed comparison value) resolve to false rather than an error,
// so a bad rule excludes products instead of taking the collection down.
// The one exception is not_equals against an absent attribute, which is
// true: absence counts as "not equal".
func Matches(p Product, r Rule) bool {
	value := Attribute(p, r.Field)
	if value.kind == kindUndefined {
		return r.Operator == OperatorNotEquals
	}

	switch r.Operator {
	case OperatorEquals:
		equal, ok := equalsAttr(value, r.Value)
		return ok && equal
	case OperatorNotEquals:
		equal, ok := equalsAttr(value, r.Value)
		return ok && !equal
	case OperatorGreaterThan:
		cmp, ok := compareNumeric(value, r.Value)
		return ok && cmp > 0
	case OperatorLessThan:
		cmp, ok := compareNumeric(value, r.Value)
		return ok && cmp < 0
	case OperatorContains:
		return containsAttr(value, r.Value)
	default:
		return false
	}
}

// equalsAttr reports whether the attribute equals the comparison value, and
// whether the comparison was well-formed at all. Malformed numeric values
// poison both equals and its negation.
func equalsAttr(v attrValue, raw string) (equal, ok bool) {
	switch v.kind {
	case kindText:
		return strings.EqualFold(v.text, raw), true
	case kindTags:
		for _, tag := range v.tags {
			if strings.EqualFold(tag, raw) {
				return true, true
			}
		}
		return false, true
	case kindNumber:
		want, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return false, false
		}
		return v.number.Equal(want), true
	case kindInteger:
		want, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return false, false
		}
		return v.whole == want, true
	default:
		return false, false
	}
}

// compareNumeric orders the attribute against the comparison value,
// returning -1/0/+1 and whether the comparison is valid. Numeric operators
// only apply to price and stock.
func compareNumeric(v attrValue, raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	switch v.kind {
	case kindNumber:
		want, err := decimal.NewFromString(raw)
		if err != nil {
			return 0, false
		}
		return v.number.Cmp(want), true
	case kindInteger:
		want, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false
		}
		switch {
		case v.whole < want:
			return -1, true
		case v.whole > want:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

// containsAttr is a case-insensitive substring test on text attributes; on
// the tag set it is true if any tag contains the substring.
func containsAttr(v attrValue, raw string) bool {
	needle := strings.ToLower(raw)
	switch v.kind {
	case kindText:
		return strings.Contains(strings.ToLower(v.text), needle)
	case kindTags:
		for _, tag := range v.tags {
			if strings.Contains(strings.ToLower(tag), needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
