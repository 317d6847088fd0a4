package tools

import (
	"errors"
	"testing"
)

func TestValidateQueryDefaultsToAllGroups(t *testing.T) {
	r := NewRegistry()
	groups, err := r.ValidateQuery("token_overview", nil, map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"basic", "market", "supply", "social"}
	if len(groups) != len(want) {
		t.Fatalf("expected %v, got %v", want, groups)
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, groups)
		}
	}
}

func TestValidateQueryAllKeyword(t *testing.T) {
	r := NewRegistry()
	groups, err := r.ValidateQuery("derivatives_snapshot", []string{"all"}, map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("'all' must expand to every group, got %v", groups)
	}
}

func TestValidateQueryUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.ValidateQuery("nope", nil, map[string]string{"symbol": "BTC"})
	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidRequestError, got %v", err)
	}
}

func TestValidateQueryUnknownGroup(t *testing.T) {
	r := NewRegistry()
	_, err := r.ValidateQuery("token_overview", []string{"funding_rate"}, map[string]string{"symbol": "BTC"})
	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidRequestError for foreign group, got %v", err)
	}
}

func TestValidateQueryMissingParam(t *testing.T) {
	r := NewRegistry()
	_, err := r.ValidateQuery("token_overview", nil, map[string]string{})
	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidRequestError for missing symbol, got %v", err)
	}
	_, err = r.ValidateQuery("token_overview", nil, map[string]string{"symbol": "  "})
	if !errors.As(err, &invalid) {
		t.Fatalf("blank symbol must be rejected, got %v", err)
	}
}

func TestValidateQueryDeduplicatesAndOrders(t *testing.T) {
	r := NewRegistry()
	groups, err := r.ValidateQuery("token_overview",
		[]string{"social", "market", "social", "MARKET"},
		map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 2 || groups[0] != "market" || groups[1] != "social" {
		t.Fatalf("expected canonical [market social], got %v", groups)
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	defs := r.List()
	if len(defs) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(defs))
	}
	if defs[0].Name != "token_overview" || defs[1].Name != "derivatives_snapshot" {
		t.Fatalf("unexpected order: %s, %s", defs[0].Name, defs[1].Name)
	}
}
