package main

import (
	"strings"
	"testing"
)

const sampleFixture = `
products:
  - id: p1
    name: Walnut Desk
    brand: Oakline
    category: furniture
    tags: [wood, office]
    price: "349.00"
    original_price: "399.00"
    stock: 4
    sales_count: 12
  - id: p2
    name: Desk Lamp
    price: "29.90"
    stock: 50

collections:
  - id: c1
    title: Office Essentials
    type: automatic
    match_policy: any
    default_sort: price-asc
    rules:
      - field: category
        operator: equals
        value: furniture
      - field: tag
        operator: equals
        value: office
  - id: c2
    title: Staff Picks
    type: manual
    default_sort: manual
    visible: false
    members: [p2, p1]
`

func TestParseFixture(t *testing.T) {
	fix, err := parseFixture([]byte(sampleFixture))
	if err != nil {
		t.Fatalf("parseFixture() error = %v", err)
	}

	if len(fix.Products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(fix.Products))
	}
	if len(fix.Collections) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(fix.Collections))
	}
	if got := fix.Collections[1].Members; len(got) != 2 || got[0] != "p2" {
		t.Fatalf("members = %v, want [p2 p1]", got)
	}
}

func TestParseFixtureRejectsUnknownFields(t *testing.T) {
	_, err := parseFixture([]byte("products:\n  - id: p1\n    nmae: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestFixtureProductToRepository(t *testing.T) {
	fix, err := parseFixture([]byte(sampleFixture))
	if err != nil {
		t.Fatalf("parseFixture() error = %v", err)
	}

	product, err := fix.Products[0].toRepository()
	if err != nil {
		t.Fatalf("toRepository() error = %v", err)
	}
	if product.Price.StringFixed(2) != "349.00" {
		t.Errorf("price = %s, want 349.00", product.Price)
	}
	if product.OriginalPrice == nil || product.OriginalPrice.StringFixed(2) != "399.00" {
		t.Errorf("original price = %v, want 399.00", product.OriginalPrice)
	}

	if _, err := (fixtureProduct{ID: "p3", Name: "Bad", Price: "not-a-number"}).toRepository(); err == nil {
		t.Error("expected error for malformed price")
	}
	if _, err := (fixtureProduct{Name: "No ID", Price: "1"}).toRepository(); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestFixtureCollectionToRepository(t *testing.T) {
	fix, err := parseFixture([]byte(sampleFixture))
	if err != nil {
		t.Fatalf("parseFixture() error = %v", err)
	}

	automatic, err := fix.Collections[0].toRepository()
	if err != nil {
		t.Fatalf("toRepository() error = %v", err)
	}
	if !automatic.Visible {
		t.Error("visible should default to true")
	}
	if !strings.Contains(string(automatic.Rules), `"operator":"equals"`) {
		t.Errorf("rules JSON = %s, want encoded rule operators", automatic.Rules)
	}

	manual, err := fix.Collections[1].toRepository()
	if err != nil {
		t.Fatalf("toRepository() error = %v", err)
	}
	if manual.Visible {
		t.Error("explicit visible: false should be preserved")
	}
	if len(manual.Rules) != 0 {
		t.Errorf("manual collection should have no rules, got %s", manual.Rules)
	}
}
