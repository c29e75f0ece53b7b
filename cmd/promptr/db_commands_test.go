package main

import (
	"testing"
	"time"

	"github.com/itchyny/gojq"

	"github.com/maseox/promptr/service/db"
)

func compileFilter(t *testing.T, expr string) *gojq.Code {
	t.Helper()
	query, err := gojq.Parse(expr)
	if err != nil {
		t.Fatalf("failed to parse jq filter %q: %v", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		t.Fatalf("failed to compile jq filter %q: %v", expr, err)
	}
	return code
}

func TestPurchaseMatchesFilters(t *testing.T) {
	purchase := &db.Purchase{
		ID:            "a3f1b2c4-0000-0000-0000-000000000001",
		WalletAddress: "CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM",
		Signature:     "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7",
		Amount:        1000000,
		GoalText:      "summarize a research paper",
		Status:        "success",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	tests := []struct {
		name        string
		filters     []string
		expectMatch bool
	}{
		{
			name:        "status match",
			filters:     []string{`.status == "success"`},
			expectMatch: true,
		},
		{
			name:        "status mismatch",
			filters:     []string{`.status == "failed"`},
			expectMatch: false,
		},
		{
			name:        "amount comparison",
			filters:     []string{`.amount >= 1000000`},
			expectMatch: true,
		},
		{
			name:        "goal substring",
			filters:     []string{`.goal | contains("research")`},
			expectMatch: true,
		},
		{
			name:        "all filters must match",
			filters:     []string{`.status == "success"`, `.amount > 2000000`},
			expectMatch: false,
		},
		{
			name:        "multiple matching filters",
			filters:     []string{`.status == "success"`, `.wallet_address != ""`},
			expectMatch: true,
		},
		{
			name:        "missing field is null",
			filters:     []string{`.no_such_field`},
			expectMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled := make([]*gojq.Code, len(tt.filters))
			for i, f := range tt.filters {
				compiled[i] = compileFilter(t, f)
			}

			matched := purchaseMatchesFilters(purchase, compiled)
			if matched != tt.expectMatch {
				t.Errorf("expected match=%v, got match=%v", tt.expectMatch, matched)
			}
		})
	}
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		expect bool
	}{
		{"nil", nil, false},
		{"true", true, true},
		{"false", false, false},
		{"number", float64(0), true},
		{"string", "", true},
		{"object", map[string]interface{}{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTruthy(tt.value); got != tt.expect {
				t.Errorf("isTruthy(%v) = %v, want %v", tt.value, got, tt.expect)
			}
		})
	}
}

func TestTruncateSignature(t *testing.T) {
	long := "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"
	got := truncateSignature(long)
	want := long[:8] + "..." + long[len(long)-8:]
	if got != want {
		t.Errorf("truncateSignature() = %q, want %q", got, want)
	}

	short := "abc123"
	if truncateSignature(short) != short {
		t.Errorf("short signatures should pass through unchanged")
	}
}
