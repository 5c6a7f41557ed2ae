package store

import "encoding/json"

// JSONCodec is a Codec that persists values as JSON. NewValue must
// return a fresh zero value for Decode to unmarshal into.
type JSONCodec struct {
	NewValue func() Value
}

func (c JSONCodec) Encode(v Value) ([]byte, error) {
	return json.Marshal(v)
}

func (c JSONCodec) Decode(raw []byte) (Value, error) {
	v := c.NewValue()
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}
