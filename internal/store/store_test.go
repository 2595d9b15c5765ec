package store

import (
	"strings"
	"testing"
)

func TestStoryID_Stable(t *testing.T) {
	a := StoryID("As a user I want to log in")
	b := StoryID("As a user I want to log in")
	if a != b {
		t.Errorf("identical text produced different ids: %q vs %q", a, b)
	}
}

func TestStoryID_NormalizesWhitespace(t *testing.T) {
	a := StoryID("some requirement")
	b := StoryID("  some requirement\n")
	if a != b {
		t.Errorf("surrounding whitespace changed the id: %q vs %q", a, b)
	}
}

func TestStoryID_Format(t *testing.T) {
	id := StoryID("anything")
	if !strings.HasPrefix(id, "story_") {
		t.Errorf("id %q missing story_ prefix", id)
	}
	if len(id) != len("story_")+16 {
		t.Errorf("id %q has unexpected length %d", id, len(id))
	}
}

func TestStoryID_DistinctTexts(t *testing.T) {
	if StoryID("first text") == StoryID("second text") {
		t.Error("different texts produced the same id")
	}
}
