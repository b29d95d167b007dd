package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testProduct() Product {
	return Product{
		ID:        "p1",
		Name:      "Alpine Trail Jacket",
		Brand:     "NorthPeak",
		Category:  "Outerwear",
		Tags:      []string{"Sale", "waterproof"},
		Price:     decimal.RequireFromString("129.99"),
		Stock:     12,
		CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{
			name: "equals on name is case-insensitive",
			rule: Rule{Field: FieldName, Operator: OperatorEquals, Value: "alpine trail jacket"},
			want: true,
		},
		{
			name: "equals on name mismatch",
			rule: Rule{Field: FieldName, Operator: OperatorEquals, Value: "Alpine"},
			want: false,
		},
		{
			name: "not_equals negates text equality",
			rule: Rule{Field: FieldBrand, Operator: OperatorNotEquals, Value: "NORTHPEAK"},
			want: false,
		},
		{
			name: "equals on tag tests set membership",
			rule: Rule{Field: FieldTag, Operator: OperatorEquals, Value: "sale"},
			want: true,
		},
		{
			name: "not_equals on tag tests absence",
			rule: Rule{Field: FieldTag, Operator: OperatorNotEquals, Value: "clearance"},
			want: true,
		},
		{
			name: "greater_than on price",
			rule: Rule{Field: FieldPrice, Operator: OperatorGreaterThan, Value: "100"},
			want: true,
		},
		{
			name: "less_than on price",
			rule: Rule{Field: FieldPrice, Operator: OperatorLessThan, Value: "100"},
			want: false,
		},
		{
			name: "greater_than on stock",
			rule: Rule{Field: FieldStock, Operator: OperatorGreaterThan, Value: "10"},
			want: true,
		},
		{
			name: "numeric operator with unparsable value is false",
			rule: Rule{Field: FieldPrice, Operator: OperatorGreaterThan, Value: "cheap"},
			want: false,
		},
		{
			name: "not_equals with unparsable numeric value is false",
			rule: Rule{Field: FieldPrice, Operator: OperatorNotEquals, Value: "cheap"},
			want: false,
		},
		{
			name: "numeric operator on text field is false",
			rule: Rule{Field: FieldName, Operator: OperatorGreaterThan, Value: "Alpine"},
			want: false,
		},
		{
			name: "contains on name",
			rule: Rule{Field: FieldName, Operator: OperatorContains, Value: "trail"},
			want: true,
		},
		{
			name: "contains on category",
			rule: Rule{Field: FieldCategory, Operator: OperatorContains, Value: "outer"},
			want: true,
		},
		{
			name: "contains on tag matches substrings of any tag",
			rule: Rule{Field: FieldTag, Operator: OperatorContains, Value: "water"},
			want: true,
		},
		{
			name: "contains on price is false",
			rule: Rule{Field: FieldPrice, Operator: OperatorContains, Value: "9"},
			want: false,
		},
		{
			name: "unknown field never matches",
			rule: Rule{Field: Field("vendor"), Operator: OperatorEquals, Value: "NorthPeak"},
			want: false,
		},
		{
			name: "not_equals on unknown field is true",
			rule: Rule{Field: Field("vendor"), Operator: OperatorNotEquals, Value: "NorthPeak"},
			want: true,
		},
		{
			name: "unknown operator is false",
			rule: Rule{Field: FieldName, Operator: Operator("matches"), Value: "Alpine"},
			want: false,
		},
		{
			name: "equals on price compares numerically",
			rule: Rule{Field: FieldPrice, Operator: OperatorEquals, Value: "129.990"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(testProduct(), tt.rule); got != tt.want {
				t.Fatalf("Matches(%+v) = %t, want %t", tt.rule, got, tt.want)
			}
		})
	}
}

func TestMatchesMissingOptionalField(t *testing.T) {
	p := testProduct()
	p.Brand = ""

	if Matches(p, Rule{Field: FieldBrand, Operator: OperatorEquals, Value: "NorthPeak"}) {
		t.Fatal("equals on missing brand should be false")
	}
	if !Matches(p, Rule{Field: FieldBrand, Operator: OperatorNotEquals, Value: "NorthPeak"}) {
		t.Fatal("not_equals on missing brand should be true")
	}
	if Matches(p, Rule{Field: FieldBrand, Operator: OperatorContains, Value: "North"}) {
		t.Fatal("contains on missing brand should be false")
	}
}
