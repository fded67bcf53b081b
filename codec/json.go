package codec

import "encoding/json"

// JSON is the default codec. Map keys are emitted sorted, so equal values
// encode to equal bytes.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
