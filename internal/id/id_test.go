package id

import "testing"

func TestNewSortableByTime(t *testing.T) {
	a := New()
	b := New()
	if !a.Time().Before(b.Time()) && a.Time() != b.Time() {
		t.Fatalf("expected a.Time() <= b.Time(), got a=%v b=%v", a.Time(), b.Time())
	}
}

func TestParseNativeRoundTrip(t *testing.T) {
	want := New()
	tagged, err := ParseNative(hexString(want))
	if err != nil {
		t.Fatalf("ParseNative: %v", err)
	}
	if tagged.ID != want {
		t.Fatalf("round trip mismatch: got %x want %x", tagged.ID, want)
	}
	if tagged.String() != hexString(want) {
		t.Fatalf("String() canonicalized a native id unexpectedly")
	}
}

func TestParseLegacyPreservesEncoding(t *testing.T) {
	legacyHex := "0123456789abcdef01234567"
	tagged, err := ParseLegacy96(legacyHex)
	if err != nil {
		t.Fatalf("ParseLegacy96: %v", err)
	}
	if tagged.String() != legacyHex {
		t.Fatalf("legacy id was canonicalized: got %s want %s", tagged.String(), legacyHex)
	}
}

func hexString(i ID) string {
	t := Tagged{ID: i}
	return t.String()
}
