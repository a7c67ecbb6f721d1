package broker

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// encodeMessage gob-encodes a Message for key-value backends.
func encodeMessage(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&m); err != nil {
		return nil, fmt.Errorf("broker: encode message %s: %w", m.ID, err)
	}
	return buf.Bytes(), nil
}

// decodeMessage gob-decodes a Message.
func decodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("broker: decode message: %w", err)
	}
	return &m, nil
}

// encodeHeaders renders headers as a JSON object for SQL columns.
func encodeHeaders(h map[string]string) (string, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("broker: encode headers: %w", err)
	}
	return string(b), nil
}

func decodeHeaders(s string) (map[string]string, error) {
	h := make(map[string]string)
	if s == "" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil, fmt.Errorf("broker: decode headers: %w", err)
	}
	return h, nil
}
