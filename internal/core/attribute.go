package core

import "github.com/shopspring/decimal"

type attrKind int

const (
	kindUndefined attrKind = iota
	kindText
	kindNumber
	kindInteger
	kindTags
)

// attrValue is the typed result of an attribute lookup. Exactly one of the
// payload fields is meaningful, selected by kind.
type attrValue struct {
	kind   attrKind
	text   string
	number decimal.Decimal
	whole  int
	tags   []string
}

// Attribute extracts the typed value of a named field from a product.
// Unknown field names yield an undefined value for every product, which the
// predicate evaluator treats as non-matching (except under not_equals).
func Attribute(p Product, field Field) attrValue {
	switch field {
	case FieldTag:
		return attrValue{kind: kindTags, tags: p.Tags}
	case FieldPrice:
		return attrValue{kind: kindNumber, number: p.Price}
	case FieldName:
		return attrValue{kind: kindText, text: p.Name}
	case FieldBrand:
		if p.Brand == "" {
			return attrValue{}
		}
		return attrValue{kind: kindText, text: p.Brand}
	case FieldCategory:
		if p.Category == "" {
			return attrValue{}
		}
		return attrValue{kind: kindText, text: p.Category}
	case FieldStock:
		return attrValue{kind: kindInteger, whole: p.Stock}
	default:
		return attrValue{}
	}
}
