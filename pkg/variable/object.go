package variable

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Serialization formats carried in valueInfo.serializationDataFormat of
// Object variables.
const (
	FormatJSON       = "application/json"
	FormatJavaObject = "application/x-java-serialized-object"
	FormatGob        = "application/x-gob"
)

const (
	infoSerializationFormat = "serializationDataFormat"
	infoObjectTypeName      = "objectTypeName"
)

// ObjectDecoder turns the raw (already base64-decoded) payload of an Object
// variable into a Go value.
type ObjectDecoder func(data []byte) (any, error)

// Codec decodes wire values. The zero value is not usable; use NewCodec.
type Codec struct {
	objectDecoders map[string]ObjectDecoder
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithObjectDecoder installs dec for Object variables serialized as format.
// Binary formats (anything but FormatJSON) receive base64-decoded bytes.
func WithObjectDecoder(format string, dec ObjectDecoder) CodecOption {
	return func(c *Codec) {
		c.objectDecoders[format] = dec
	}
}

var defaultCodec = NewCodec()

// NewCodec returns a Codec with the built-in object decoders:
// JSON text is returned as json.RawMessage so it can be unmarshalled into the
// target field, gob payloads are gob-decoded, and JVM-serialized payloads are
// returned as raw bytes unless a decoder is installed for them.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		objectDecoders: map[string]ObjectDecoder{
			FormatGob:        decodeGob,
			FormatJavaObject: func(data []byte) (any, error) { return data, nil },
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) decodeObject(tv TypedValue) (any, error) {
	format, _ := tv.ValueInfo[infoSerializationFormat].(string)
	if format == "" {
		return tv.Value, nil
	}

	if format == FormatJSON {
		if dec, ok := c.objectDecoders[FormatJSON]; ok {
			return dec([]byte(fmt.Sprint(tv.Value)))
		}
		switch x := tv.Value.(type) {
		case string:
			return json.RawMessage(x), nil
		case json.RawMessage:
			return x, nil
		}
		raw, err := json.Marshal(tv.Value)
		if err != nil {
			return nil, fmt.Errorf("variable: re-encode json object: %w", err)
		}
		return json.RawMessage(raw), nil
	}

	dec, ok := c.objectDecoders[format]
	if !ok {
		return tv.Value, nil
	}
	data, err := toBytes(tv.Value)
	if err != nil {
		return nil, fmt.Errorf("variable: object in format %q: %w", format, err)
	}
	v, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("variable: decode object in format %q: %w", format, err)
	}
	return v, nil
}

// GobObject encodes v as an Object variable using encoding/gob.
// Concrete types travelling inside interfaces must be registered with
// gob.Register by the caller.
func GobObject(v any) (TypedValue, error) {
	var buf bytes.Buffer
	// Encode as interface{} so the decoder can restore the dynamic type.
	iv := v
	if err := gob.NewEncoder(&buf).Encode(&iv); err != nil {
		return TypedValue{}, fmt.Errorf("variable: gob encode: %w", err)
	}
	return TypedValue{
		Type:  TypeObject,
		Value: base64.StdEncoding.EncodeToString(buf.Bytes()),
		ValueInfo: map[string]any{
			infoSerializationFormat: FormatGob,
			infoObjectTypeName:      fmt.Sprintf("%T", v),
		},
	}, nil
}

// JSONObject encodes v as an Object variable holding JSON text.
func JSONObject(v any) (TypedValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return TypedValue{}, fmt.Errorf("variable: json encode: %w", err)
	}
	return TypedValue{
		Type:  TypeObject,
		Value: string(raw),
		ValueInfo: map[string]any{
			infoSerializationFormat: FormatJSON,
			infoObjectTypeName:      fmt.Sprintf("%T", v),
		},
	}, nil
}

func decodeGob(data []byte) (any, error) {
	var iv any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&iv); err != nil {
		return nil, err
	}
	return iv, nil
}
