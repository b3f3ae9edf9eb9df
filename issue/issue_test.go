package issue

import (
	"encoding/json"
	"testing"
)

func TestSeverityOrdering(t *testing.T) {
	// The scale must be strictly ordered Highest > High > Medium > Low > Lowest.
	order := []Severity{Lowest, Low, Medium, High, Highest}
	for i := 1; i < len(order); i++ {
		if order[i] <= order[i-1] {
			t.Fatalf("%v should rank above %v", order[i], order[i-1])
		}
	}
}

func TestSeverityNames(t *testing.T) {
	tests := []struct {
		sev  Severity
		name string
	}{
		{Highest, "Highest"},
		{High, "High"},
		{Medium, "Medium"},
		{Low, "Low"},
		{Lowest, "Lowest"},
	}
	for _, tt := range tests {
		if got := tt.sev.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if !tt.sev.Valid() {
			t.Errorf("%s should be valid", tt.name)
		}
	}
	if Severity(0).Valid() || Severity(99).Valid() {
		t.Error("out-of-range severities should be invalid")
	}
}

func TestSeverityRoundTrip(t *testing.T) {
	in := Issue{
		Category:    Buttons,
		Subcategory: "Touch targets",
		Description: "button too small",
		Severity:    Medium,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Issue
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Severity != Medium {
		t.Errorf("severity: got %v, want Medium", out.Severity)
	}

	var bad Issue
	if err := json.Unmarshal([]byte(`{"severity":"Catastrophic"}`), &bad); err == nil {
		t.Error("expected error for unknown severity name")
	}
}
