package fingerprint

import (
	"errors"
	"testing"

	"github.com/hazyhaar/pagewatch/extract"
)

func content(items ...string) extract.Content { return extract.Content{Items: items} }

func TestFingerprint_OrderSensitive(t *testing.T) {
	// WHAT: ["A","B"] and ["B","A"] have different digests.
	// WHY: Reordering a listing is a change the user cares about.
	for _, a := range []Algorithm{SHA256, BLAKE2b, MD5} {
		ab := a.Sum(content("A", "B"))
		ba := a.Sum(content("B", "A"))
		if ab.Equal(ba) {
			t.Errorf("%s: reordered items share digest %s", a, ab.Hex())
		}
	}
}

func TestFingerprint_Pure(t *testing.T) {
	c := content("Top Floor Loft", "Ground Floor Studio")
	first := Fingerprint(c)
	for i := 0; i < 10; i++ {
		if d := Fingerprint(c); !d.Equal(first) {
			t.Fatalf("digest changed between calls: %s vs %s", d, first)
		}
	}
}

func TestFingerprint_Widths(t *testing.T) {
	tests := []struct {
		alg    Algorithm
		hexLen int
	}{
		{SHA256, 64},
		{BLAKE2b, 64},
		{MD5, 32},
	}
	for _, tt := range tests {
		d := tt.alg.Sum(content("x"))
		if len(d.Hex()) != tt.hexLen {
			t.Errorf("%s: hex length %d, want %d", tt.alg, len(d.Hex()), tt.hexLen)
		}
		if d.Algorithm != tt.alg {
			t.Errorf("%s: algorithm %q", tt.alg, d.Algorithm)
		}
	}
}

func TestFingerprint_KnownValues(t *testing.T) {
	// WHAT: Digests match well-known reference values.
	// WHY: An md5 baseline written by the legacy script must compare equal.
	empty := content()
	if got := SHA256.Sum(empty).Hex(); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("sha256 empty: %s", got)
	}
	if got := MD5.Sum(empty).Hex(); got != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("md5 empty: %s", got)
	}
	if got := MD5.Sum(content("abc")).Hex(); got != "900150983cd24fb0d6963f7d28e17f72" {
		t.Errorf("md5 abc: %s", got)
	}
}

func TestFingerprint_NoTrailingNewline(t *testing.T) {
	if string(Bytes(content("a", "b"))) != "a\nb" {
		t.Fatalf("canonical bytes: %q", Bytes(content("a", "b")))
	}
	if Fingerprint(content("a", "b")).Equal(SHA256.SumBytes([]byte("a\nb\n"))) {
		t.Fatal("trailing newline must change the digest")
	}
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{"": SHA256, "SHA256": SHA256, " md5 ": MD5, "blake2b": BLAKE2b} {
		got, err := ParseAlgorithm(in)
		if err != nil || got != want {
			t.Errorf("ParseAlgorithm(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseAlgorithm("crc32"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestParseDigest(t *testing.T) {
	d := SHA256.Sum(content("x"))
	back, err := ParseDigest(SHA256, "  "+d.Hex()+"\n")
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(d) {
		t.Fatalf("round trip mismatch")
	}
	if _, err := ParseDigest(SHA256, "zz"); !errors.Is(err, ErrMalformed) {
		t.Errorf("non-hex: %v", err)
	}
	if _, err := ParseDigest(MD5, d.Hex()); !errors.Is(err, ErrMalformed) {
		t.Errorf("wrong width: %v", err)
	}
}
