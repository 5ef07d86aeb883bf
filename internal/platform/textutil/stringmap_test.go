package textutil

import "testing"

func TestNormalizeStringMap(t *testing.T) {
	got := NormalizeStringMap(map[string]string{" name ": " Asha ", " ": "x"})
	if len(got) != 1 || got["name"] != "Asha" {
		t.Fatalf("unexpected map %#v", got)
	}
	if NormalizeStringMap(map[string]string{"  ": "v"}) != nil {
		t.Fatal("expected nil for map without usable keys")
	}
}

func TestSanitizeTextStripsMarkupAndTruncates(t *testing.T) {
	got := SanitizeText(`<b>Happy</b> birthday <script>alert(1)</script>Ravi`, 0)
	if got != "Happy birthday Ravi" {
		t.Fatalf("unexpected sanitised text %q", got)
	}
	if got := SanitizeText("नमस्ते दुनिया", 6); got != "नमस्ते" {
		t.Fatalf("expected rune-aware truncation, got %q", got)
	}
}

func TestSanitizeAnyMapNested(t *testing.T) {
	got := SanitizeAnyMap(map[string]any{
		"line1": "<i>To Mom</i>",
		"font":  map[string]any{"name": "<b>Serif</b>"},
		"count": 2,
		"tags":  []any{"<u>gold</u>"},
	}, 40)
	if got["line1"] != "To Mom" || got["count"] != 2 {
		t.Fatalf("unexpected sanitised map %#v", got)
	}
	if nested := got["font"].(map[string]any); nested["name"] != "Serif" {
		t.Fatalf("nested value not sanitised: %#v", nested)
	}
	if tags := got["tags"].([]any); tags[0] != "gold" {
		t.Fatalf("slice value not sanitised: %#v", tags)
	}
}

func TestSanitizeTextKeepsApostrophes(t *testing.T) {
	if got := SanitizeText("Mom's <em>day</em>", 0); got != "Mom's day" {
		t.Fatalf("unexpected text %q", got)
	}
}
