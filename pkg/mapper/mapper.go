// Package mapper provides the pluggable body serializers used to carry
// commands and signals over the transport. Every mapper tolerates unknown
// incoming fields so producers can add fields ahead of consumers.
package mapper

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mapper converts command objects to and from message bodies.
type Mapper interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Format is the short name used in configuration ("json", "xml", "yaml").
	Format() string
}

// Format names accepted by New.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
	FormatYAML = "yaml"
)

// New returns the mapper for format. An empty format selects JSON.
func New(format string) (Mapper, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return JSON{}, nil
	case FormatXML:
		return XML{}, nil
	case FormatYAML, "yml":
		return YAML{}, nil
	}
	return nil, fmt.Errorf("mapper: unknown format %q", format)
}

// JSON is the default mapper.
type JSON struct{}

func (JSON) Format() string { return FormatJSON }

func (JSON) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mapper: json marshal: %w", err)
	}
	return b, nil
}

func (JSON) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	// Keep numbers exact for untyped fields.
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("mapper: json unmarshal: %w", err)
	}
	return nil
}

// XML maps bodies with encoding/xml. Types without an XMLName field are
// encoded under their Go type name.
type XML struct{}

func (XML) Format() string { return FormatXML }

func (XML) Marshal(v any) ([]byte, error) {
	b, err := xml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mapper: xml marshal: %w", err)
	}
	return b, nil
}

func (XML) Unmarshal(data []byte, v any) error {
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("mapper: xml unmarshal: %w", err)
	}
	return nil
}

// YAML maps bodies with gopkg.in/yaml.v3.
type YAML struct{}

func (YAML) Format() string { return FormatYAML }

func (YAML) Marshal(v any) ([]byte, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mapper: yaml marshal: %w", err)
	}
	return b, nil
}

func (YAML) Unmarshal(data []byte, v any) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("mapper: yaml unmarshal: %w", err)
	}
	return nil
}
