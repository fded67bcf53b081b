package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type summary struct {
	UserID   int                `json:"user_id"`
	Month    string             `json:"month"`
	Total    float64            `json:"total"`
	ByCat    map[string]float64 `json:"by_category"`
	Accounts []string           `json:"accounts"`
}

func sample() summary {
	return summary{
		UserID:   7,
		Month:    "2024-01",
		Total:    100,
		ByCat:    map[string]float64{"rent": 60, "food": 40},
		Accounts: []string{"checking", "savings"},
	}
}

func TestCodecsRoundTrip(t *testing.T) {
	for _, name := range []string{NameJSON, NameMsgpack, NameCBOR} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName[summary](name)
			if err != nil {
				t.Fatalf("ByName: %v", err)
			}
			b, err := c.Encode(sample())
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(sample(), got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestByNameUnknown(t *testing.T) {
	if _, err := ByName[summary]("xml"); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

func TestLimitCodec(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4, MaxEncode: 8}

	if _, err := c.Decode([]byte("12345")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge on decode, got %v", err)
	}
	if _, err := c.Encode("123456789"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge on encode, got %v", err)
	}
	if v, err := c.Decode([]byte("1234")); err != nil || v != "1234" {
		t.Fatalf("decode within limit: v=%q err=%v", v, err)
	}
}

func TestCanonicalIgnoresMapOrder(t *testing.T) {
	a := map[string]any{"user": 7, "month": "2024-01", "filters": map[string]any{"a": 1, "b": 2}}
	b := map[string]any{"filters": map[string]any{"b": 2, "a": 1}, "month": "2024-01", "user": 7}

	ea, err := Canonical(a)
	if err != nil {
		t.Fatal(err)
	}
	eb, err := Canonical(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ea, eb) {
		t.Fatalf("canonical encodings differ: %x vs %x", ea, eb)
	}
}

func TestProtobufCodec(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{"total": 100.0, "month": "2024-01"})
	if err != nil {
		t.Fatal(err)
	}
	c := NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} })

	b, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !proto.Equal(in, out) {
		t.Fatalf("protobuf round trip mismatch: %v vs %v", in, out)
	}
}
