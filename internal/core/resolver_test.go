package core

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func scenarioSnapshot() *Snapshot {
	return NewSnapshot(1, []Product{
		{ID: "1", Name: "One", Price: decimal.NewFromInt(10), Tags: []string{"sale"}},
		{ID: "2", Name: "Two", Price: decimal.NewFromInt(5)},
	})
}

func TestResolveAutomaticAllPolicy(t *testing.T) {
	col := Collection{
		ID:   "c1",
		Type: CollectionAutomatic,
		Rules: RuleSet{Policy: MatchAll, Rules: []Rule{
			{Field: FieldTag, Operator: OperatorEquals, Value: "sale"},
		}},
	}

	got := Resolve(col, scenarioSnapshot(), time.Now())
	if want := []string{"1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve() = %v, want %v", got, want)
	}
}

func TestResolveAutomaticAnyPolicy(t *testing.T) {
	col := Collection{
		ID:   "c2",
		Type: CollectionAutomatic,
		Rules: RuleSet{Policy: MatchAny, Rules: []Rule{
			{Field: FieldPrice, Operator: OperatorLessThan, Value: "6"},
			{Field: FieldTag, Operator: OperatorEquals, Value: "sale"},
		}},
	}

	got := Resolve(col, scenarioSnapshot(), time.Now())
	if want := []string{"1", "2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve() = %v, want %v", got, want)
	}
}

func TestResolveManualDropsDanglingIDs(t *testing.T) {
	// Stored order [3,1,2]; product 3 no longer exists in the catalog.
	col := Collection{
		ID:        "c3",
		Type:      CollectionManual,
		MemberIDs: []string{"3", "1", "2"},
	}

	got := Resolve(col, scenarioSnapshot(), time.Now())
	if want := []string{"1", "2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve() = %v, want %v", got, want)
	}
}

func TestResolveOutsideActiveWindow(t *testing.T) {
	yesterday := time.Now().Add(-24 * time.Hour)

	for _, colType := range []CollectionType{CollectionManual, CollectionAutomatic} {
		col := Collection{
			ID:        "c4",
			Type:      colType,
			MemberIDs: []string{"1", "2"},
			Rules:     RuleSet{Policy: MatchAll},
			EndsAt:    &yesterday,
		}

		if got := Resolve(col, scenarioSnapshot(), time.Now()); len(got) != 0 {
			t.Fatalf("Resolve(%s collection past window) = %v, want empty", colType, got)
		}
	}
}

func TestResolveBeforeWindowOpens(t *testing.T) {
	tomorrow := time.Now().Add(24 * time.Hour)
	col := Collection{
		ID:       "c5",
		Type:     CollectionAutomatic,
		Rules:    RuleSet{Policy: MatchAll},
		StartsAt: &tomorrow,
	}

	if got := Resolve(col, scenarioSnapshot(), time.Now()); len(got) != 0 {
		t.Fatalf("Resolve(collection before window) = %v, want empty", got)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	snap := scenarioSnapshot()
	col := Collection{
		ID:   "c6",
		Type: CollectionAutomatic,
		Rules: RuleSet{Policy: MatchAny, Rules: []Rule{
			{Field: FieldPrice, Operator: OperatorLessThan, Value: "100"},
		}},
	}

	first := Resolve(col, snap, time.Now())
	second := Resolve(col, snap, time.Now())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated Resolve() differs: %v vs %v", first, second)
	}
}
