package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressorsRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"category":"groceries","amount":"12.50"},`, 200))

	for _, name := range []string{NameZstd, NameSnappy} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName(name)
			if err != nil {
				t.Fatalf("ByName: %v", err)
			}
			if c.Name() != name {
				t.Fatalf("Name() = %q, want %q", c.Name(), name)
			}
			packed, err := c.Compress(payload)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if len(packed) >= len(payload) {
				t.Fatalf("repetitive payload did not shrink: %d >= %d", len(packed), len(payload))
			}
			out, err := c.Decompress(packed)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(out, payload) {
				t.Fatalf("round trip mismatch")
			}
		})
	}
}

func TestDecompressGarbage(t *testing.T) {
	for _, name := range []string{NameZstd, NameSnappy} {
		c, err := ByName(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.Decompress([]byte("definitely not compressed")); err == nil {
			t.Fatalf("%s: expected error on garbage input", name)
		}
	}
}

func TestByNameUnknown(t *testing.T) {
	if _, err := ByName("lz4"); err == nil {
		t.Fatalf("expected error")
	}
}
