package token

import "testing"

func TestGenerateUniqueAndWellFormed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok, err := Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !WellFormed(tok) {
			t.Fatalf("token %q not well formed", tok)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestWellFormedRejects(t *testing.T) {
	for _, s := range []string{"", "short", "../../etc/passwd", "a b c d e f g h i j k l m n o p q r s t u v w"} {
		if WellFormed(s) {
			t.Errorf("WellFormed(%q) = true", s)
		}
	}
}

func TestTrackingNumber(t *testing.T) {
	if got := TrackingNumber("abcdefghijk"); got != "ABCDEFGH" {
		t.Errorf("TrackingNumber = %q", got)
	}
}
