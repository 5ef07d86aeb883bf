package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTripAndOrdering(t *testing.T) {
	created := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	token, err := EncodeToken(Cursor{CreatedAt: created, ID: "ord_b"})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !cursor.CreatedAt.Equal(created) || cursor.ID != "ord_b" {
		t.Fatalf("unexpected cursor %#v", cursor)
	}
	if cursor.After(created, "ord_a") {
		t.Fatal("row with smaller id at same instant should not be after cursor")
	}
	if !cursor.After(created, "ord_c") {
		t.Fatal("row with larger id at same instant should be after cursor")
	}
	if !cursor.After(created.Add(-time.Second), "ord_a") {
		t.Fatal("older row should be after cursor")
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken("%%%"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
	if cursor, err := DecodeToken(""); err != nil || cursor.ID != "" {
		t.Fatalf("empty token should yield zero cursor, got %#v %v", cursor, err)
	}
}

func TestParsePageSize(t *testing.T) {
	cases := map[string]int{"": DefaultPageSize, "0": DefaultPageSize, "5": 5, "1000": MaxPageSize}
	for raw, want := range cases {
		got, err := ParsePageSize(raw)
		if err != nil || got != want {
			t.Fatalf("ParsePageSize(%q) = %d, %v; want %d", raw, got, err, want)
		}
	}
	if _, err := ParsePageSize("abc"); err == nil {
		t.Fatal("expected error for non-integer page size")
	}
}
