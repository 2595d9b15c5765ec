package fallback

import (
	"reflect"
	"testing"
)

func TestForDomain_KnownDomain(t *testing.T) {
	g := New()

	cases := g.ForDomain("commerce")
	if len(cases) == 0 {
		t.Fatal("expected commerce edge cases")
	}
	for _, tc := range cases {
		if tc.ID == "" || tc.Title == "" {
			t.Errorf("incomplete fallback case: %+v", tc)
		}
	}
}

func TestForDomain_UnknownFallsBackToGeneral(t *testing.T) {
	g := New()

	got := g.ForDomain("astrology")
	want := g.ForDomain("general")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unknown domain should yield general cases, got %v", got)
	}
}

func TestForDomain_Deterministic(t *testing.T) {
	g := New()

	first := g.ForDomain("authentication")
	for i := 0; i < 5; i++ {
		if !reflect.DeepEqual(g.ForDomain("authentication"), first) {
			t.Fatal("ForDomain is not deterministic")
		}
	}
}

func TestForDomain_ReturnsCopy(t *testing.T) {
	g := New()

	cases := g.ForDomain("commerce")
	cases[0].Title = "mutated"

	again := g.ForDomain("commerce")
	if again[0].Title == "mutated" {
		t.Error("ForDomain must return a copy, not shared backing data")
	}
}

func TestOnFailure(t *testing.T) {
	g := New()

	cases := g.OnFailure()
	if len(cases) == 0 {
		t.Fatal("expected at least one failure fallback case")
	}
	if cases[0].ID != "fallback_1" {
		t.Errorf("unexpected fallback id %q", cases[0].ID)
	}
}
