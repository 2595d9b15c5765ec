package classify

import (
	"reflect"
	"testing"
)

func TestClassify_Domains(t *testing.T) {
	c := New()

	tests := []struct {
		text string
		want string
	}{
		{"As a shopper I need checkout to keep my cart", "commerce"},
		{"Users must login with a password", "authentication"},
		{"Generate an invoice for each billing cycle", "finance"},
		{"Weather data is displayed daily", "general"},
		{"", "general"},
	}

	for _, tt := range tests {
		if got := c.Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestClassify_Precedence(t *testing.T) {
	c := New()

	// Both commerce and finance keywords present; commerce comes first in
	// the table, so it wins.
	got := c.Classify("Pay for the cart with a stored payment method")
	if got != "commerce" {
		t.Errorf("expected commerce to take precedence, got %q", got)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := New()
	text := "As a user I want to purchase a product"

	first := c.Classify(text)
	for i := 0; i < 10; i++ {
		if got := c.Classify(text); got != first {
			t.Fatalf("Classify is not deterministic: %q vs %q", first, got)
		}
	}
}

func TestClassify_CustomTable(t *testing.T) {
	c := NewWithTable([]DomainKeywords{
		{Domain: "medical", Keywords: []string{"patient", "diagnosis"}},
	})

	if got := c.Classify("Record the patient history"); got != "medical" {
		t.Errorf("expected medical, got %q", got)
	}
	if got := c.Classify("checkout the cart"); got != DomainGeneral {
		t.Errorf("custom table should replace the default, got %q", got)
	}
}

func TestKeywords_FrequencyOrder(t *testing.T) {
	c := New()

	got := c.Keywords("I want to search search search the results quickly")
	want := []string{"search", "results", "quickly"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keywords = %v, want %v", got, want)
	}
}

func TestKeywords_FiltersStopWordsAndShortTokens(t *testing.T) {
	c := New()

	got := c.Keywords("as a user I want to go up and on it")
	for _, kw := range got {
		if len(kw) <= 2 {
			t.Errorf("short token %q not filtered", kw)
		}
		if _, stop := stopWords[kw]; stop {
			t.Errorf("stop word %q not filtered", kw)
		}
	}
}

func TestKeywords_CappedAtMax(t *testing.T) {
	c := New()

	got := c.Keywords("alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima")
	if len(got) != MaxKeywords {
		t.Errorf("expected %d keywords, got %d", MaxKeywords, len(got))
	}
}

func TestComplexity(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"short simple", "Add one item", 0.03},
		{"with indicators", "Integrate multiple external systems", 0.04 + 0.6},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		got := Complexity(tt.text)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s: Complexity(%q) = %v, want %v", tt.name, tt.text, got, tt.want)
		}
	}
}

func TestComplexity_CappedAtOne(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "word "
	}
	if got := Complexity(long); got != 1.0 {
		t.Errorf("expected complexity capped at 1.0, got %v", got)
	}
}
