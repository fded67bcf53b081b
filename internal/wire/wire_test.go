package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func mustDecode(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return e
}

func TestRoundTrip(t *testing.T) {
	created := time.Unix(1_700_000_000, 123456789)
	cases := []Entry{
		{CreatedAt: created, TTL: 0, Payload: nil},
		{CreatedAt: created, TTL: 5 * time.Minute, Payload: []byte(`{"total":100}`)},
		{CreatedAt: created, TTL: time.Hour, Compressed: true, Payload: []byte{0, 1, 2, 3}},
	}
	for _, tc := range cases {
		got := mustDecode(t, Encode(tc))
		if !got.CreatedAt.Equal(tc.CreatedAt) {
			t.Fatalf("created mismatch: got %v want %v", got.CreatedAt, tc.CreatedAt)
		}
		if got.TTL != tc.TTL || got.Compressed != tc.Compressed {
			t.Fatalf("meta mismatch: got %+v want %+v", got, tc)
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestRejectsTrailingBytes(t *testing.T) {
	enc := Encode(Entry{CreatedAt: time.Now(), TTL: time.Second, Payload: []byte("x")})
	enc = append(enc, 0xDE, 0xAD)
	if _, err := Decode(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestCorruptHeaders(t *testing.T) {
	enc := Encode(Entry{CreatedAt: time.Now(), TTL: time.Second, Payload: []byte("abc")})

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := Decode(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := Decode(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badFlags := append([]byte(nil), enc...)
	badFlags[5] = 0x80
	if _, err := Decode(badFlags); err == nil {
		t.Fatalf("expected error on unknown flags")
	}

	badLen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(badLen[22:26], 1000)
	if _, err := Decode(badLen); err == nil {
		t.Fatalf("expected error on oversized vlen")
	}

	if _, err := Decode(enc[:10]); err == nil {
		t.Fatalf("expected error on truncated header")
	}
}

func TestExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	e := Entry{CreatedAt: now, TTL: 300 * time.Second}

	if e.Expired(now.Add(300 * time.Second)) {
		t.Fatalf("entry at exactly its TTL is not expired")
	}
	if !e.Expired(now.Add(301 * time.Second)) {
		t.Fatalf("entry past its TTL must be expired")
	}
	if r := e.Remaining(now.Add(100 * time.Second)); r != 200*time.Second {
		t.Fatalf("Remaining = %v", r)
	}
	if r := e.Remaining(now.Add(time.Hour)); r != 0 {
		t.Fatalf("Remaining past expiry = %v", r)
	}
	if (Entry{CreatedAt: now}).Expired(now.Add(24 * time.Hour)) {
		t.Fatalf("zero TTL never expires")
	}
}
