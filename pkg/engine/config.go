package engine

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"
)

// Config is a parsed engine configuration document.
type Config struct {
	doc map[string]any
}

// ParseConfig decodes a configuration document. Comments and trailing
// commas are accepted; the top level must be an object.
func ParseConfig(text string) (*Config, error) {
	stripped := jsonc.ToJSON([]byte(text))

	var doc map[string]any
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("config must be a JSON object")
	}
	return &Config{doc: doc}, nil
}

// JSON renders the document the way the engine reads it on stdin.
func (c *Config) JSON() ([]byte, error) {
	return json.Marshal(c.doc)
}

// InboundTags lists the tags of the configured inbounds, in order.
func (c *Config) InboundTags() []string {
	inbounds, _ := c.doc["inbounds"].([]any)
	var tags []string
	for _, in := range inbounds {
		m, ok := in.(map[string]any)
		if !ok {
			continue
		}
		if tag, ok := m["tag"].(string); ok && tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
