package resolver

import (
	"math"
	"testing"
	"time"

	"cryptolens/models"
)

func TestNumericConflictWithinThresholdAverages(t *testing.T) {
	final, record := ResolveNumericConflict("price",
		map[string]float64{"coingecko": 100.00, "coinmarketcap": 100.30},
		"coingecko", 0.5, false)

	if final != 100.15 {
		t.Fatalf("expected average 100.15, got %v", final)
	}
	if record != nil {
		t.Fatalf("within-threshold agreement must not record by default, got %+v", record)
	}
}

func TestNumericConflictWithinThresholdAlwaysRecord(t *testing.T) {
	final, record := ResolveNumericConflict("price",
		map[string]float64{"coingecko": 100.00, "coinmarketcap": 100.30},
		"coingecko", 0.5, true)

	if final != 100.15 {
		t.Fatalf("expected average 100.15, got %v", final)
	}
	if record == nil {
		t.Fatal("expected a record in always-record mode")
	}
	if record.Resolution != models.ResolutionAverage {
		t.Fatalf("expected resolution %s, got %s", models.ResolutionAverage, record.Resolution)
	}
	if math.Abs(record.DiffPercent-0.3) > 1e-9 {
		t.Fatalf("expected diff 0.3%%, got %v", record.DiffPercent)
	}
}

func TestNumericConflictBeyondThresholdPrimaryWins(t *testing.T) {
	final, record := ResolveNumericConflict("price",
		map[string]float64{"coingecko": 100.00, "coinmarketcap": 101.00},
		"coingecko", 0.5, false)

	if final != 100.00 {
		t.Fatalf("expected primary value 100.00, got %v", final)
	}
	if record == nil {
		t.Fatal("beyond-threshold disagreement must always record")
	}
	if record.Resolution != models.ResolutionPrimaryPreferred {
		t.Fatalf("expected resolution %s, got %s", models.ResolutionPrimaryPreferred, record.Resolution)
	}
	if math.Abs(record.DiffPercent-1.0) > 1e-9 {
		t.Fatalf("expected diff 1.0%%, got %v", record.DiffPercent)
	}
	if record.Values["coinmarketcap"] != 101.00 {
		t.Fatalf("record must carry all raw values, got %+v", record.Values)
	}
}

func TestNumericConflictFullAgreement(t *testing.T) {
	final, record := ResolveNumericConflict("price",
		map[string]float64{"a": 42.0, "b": 42.0},
		"a", 0.5, true)
	if final != 42.0 || record != nil {
		t.Fatalf("full agreement must pass through silently, got %v %+v", final, record)
	}
}

func TestNumericConflictSingleValue(t *testing.T) {
	final, record := ResolveNumericConflict("price", map[string]float64{"a": 7.0}, "a", 0.5, true)
	if final != 7.0 || record != nil {
		t.Fatalf("single value must pass through, got %v %+v", final, record)
	}
}

func TestNumericConflictZeroReference(t *testing.T) {
	// Primary reports zero; the disagreement cannot be expressed relatively
	// and must resolve in the primary's favor.
	final, record := ResolveNumericConflict("funding_rate",
		map[string]float64{"primary": 0.0, "other": 0.01},
		"primary", 50.0, false)

	if final != 0.0 {
		t.Fatalf("expected primary value 0.0, got %v", final)
	}
	if record == nil || record.Resolution != models.ResolutionPrimaryPreferred {
		t.Fatalf("expected primary_preferred record, got %+v", record)
	}
}

func TestNumericConflictPrimaryAbsent(t *testing.T) {
	final, record := ResolveNumericConflict("price",
		map[string]float64{"a": 100.0, "b": 110.0},
		"missing", 0.5, false)
	if record == nil {
		t.Fatal("expected a conflict record")
	}
	if final != 100.0 {
		t.Fatalf("expected fallback to smallest absolute value, got %v", final)
	}
}

func TestCategoricalConflictAgreement(t *testing.T) {
	now := time.Now()
	final, record := ResolveCategoricalConflict("name", map[string]CategoricalValue{
		"a": {Value: "Bitcoin", AsOf: now},
		"b": {Value: "Bitcoin", AsOf: now.Add(-time.Hour)},
	})
	if final != "Bitcoin" || record != nil {
		t.Fatalf("agreement must pass through silently, got %v %+v", final, record)
	}
}

func TestCategoricalConflictLatestWins(t *testing.T) {
	now := time.Now()
	final, record := ResolveCategoricalConflict("name", map[string]CategoricalValue{
		"older": {Value: "Old Name", AsOf: now.Add(-time.Hour)},
		"newer": {Value: "New Name", AsOf: now},
	})
	if final != "New Name" {
		t.Fatalf("expected latest value, got %v", final)
	}
	if record == nil || record.Resolution != models.ResolutionLatestPreferred {
		t.Fatalf("expected latest_preferred record, got %+v", record)
	}
	if record.FinalValue != "New Name" {
		t.Fatalf("record final value mismatch: %+v", record)
	}
}
