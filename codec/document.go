package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MarshalJSON encodes v through c and renders the document as JSON
// text.
func MarshalJSON[T any](c Codec[T], v T) ([]byte, error) {
	return marshalJSONValue(c.Encode(v))
}

// UnmarshalJSON parses JSON text and decodes the document into *dst.
func UnmarshalJSON[T any](c Codec[T], dst *T, data []byte) error {
	var raw Value
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return c.Decode(dst, raw)
}

// MarshalCBOR encodes v through c and renders the document as CBOR,
// the compact binary form of the same tree.
func MarshalCBOR[T any](c Codec[T], v T) ([]byte, error) {
	return cbor.Marshal(c.Encode(v))
}

// UnmarshalCBOR parses CBOR bytes and decodes the document into *dst.
func UnmarshalCBOR[T any](c Codec[T], dst *T, data []byte) error {
	var raw Value
	if err := cborDecMode.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return c.Decode(dst, raw)
}

// cborDecMode decodes CBOR maps as map[string]any so both document
// sources produce the same tree shapes.
var cborDecMode, _ = cbor.DecOptions{
	DefaultMapType: reflect.TypeOf(map[string]any(nil)),
}.DecMode()

func marshalJSONValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
