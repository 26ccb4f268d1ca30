package codec

import (
	"bytes"
	"encoding/json"
)

// JSONCodec encodes payloads as JSON. Numbers decoded into interface values
// keep their literal form as json.Number.
type JSONCodec struct {
}

// NewJSONCodec creates a JSONCodec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Name returns "json".
func (c JSONCodec) Name() string {
	return "json"
}

// Encode encodes v as JSON.
func (c JSONCodec) Encode(v any) ([]byte, error) {
	buf := bytes.NewBuffer(nil)

	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)

	err := encoder.Encode(v)
	if err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode decodes JSON data into v.
func (c JSONCodec) Decode(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	return decoder.Decode(v)
}
