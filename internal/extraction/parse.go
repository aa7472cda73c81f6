package extraction

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"trial-estimator/internal/derive"
)

// Locator isolates the candidate mapping text inside a provider reply.
type Locator struct {
	Name   string
	Locate func(text string) (string, bool)
}

// Decoder turns isolated text into a flat mapping.
type Decoder struct {
	Name   string
	Decode func(body string) (map[string]any, error)
}

// ParseChain recovers a mapping from free-form provider output. The first
// locator that matches supplies the body; decoders are then tried in order
// and the first success wins.
type ParseChain struct {
	Locators []Locator
	Decoders []Decoder
}

var fenceRE = regexp.MustCompile("(?is)```(?:[ \t]*(?:python|json))?\\s*(.*?)\\s*```")

// DefaultParseChain is the chain used for every extraction reply.
var DefaultParseChain = ParseChain{
	Locators: []Locator{
		{Name: "fence", Locate: locateFence},
		{Name: "braces", Locate: locateBraces},
	},
	Decoders: []Decoder{
		{Name: "literal", Decode: decodeLiteral},
		{Name: "json", Decode: decodeJSONish},
	},
}

// Parse runs the chain. Failure wraps derive.ErrExtractionFormat.
func (c ParseChain) Parse(text string) (map[string]any, error) {
	s := strings.TrimSpace(text)
	body, located := "", false
	for _, l := range c.Locators {
		if b, ok := l.Locate(s); ok {
			body, located = strings.TrimSpace(b), true
			break
		}
	}
	if !located {
		return nil, eris.Wrap(derive.ErrExtractionFormat, "no mapping found in reply")
	}

	var last error
	for _, d := range c.Decoders {
		out, err := d.Decode(body)
		if err == nil {
			return out, nil
		}
		last = eris.Wrapf(err, "%s decoder", d.Name)
	}
	if last == nil {
		last = eris.New("no decoders configured")
	}
	return nil, eris.Wrapf(derive.ErrExtractionFormat, "%v", last)
}

// Parse runs DefaultParseChain.
func Parse(text string) (map[string]any, error) {
	return DefaultParseChain.Parse(text)
}

func locateFence(s string) (string, bool) {
	m := fenceRE.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// locateBraces returns the first balanced {...} span. Double quotes toggle
// string state and a backslash inside a string escapes the next rune. An
// unbalanced span yields the remainder of the text.
func locateBraces(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], true
}

// decodeLiteral accepts Python-literal style dictionaries: single-quoted
// strings and True/False/None. A YAML flow mapping covers that grammar.
func decodeLiteral(body string) (map[string]any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode || doc.Content[0].Style&yaml.FlowStyle == 0 {
		return nil, eris.New("not a dictionary")
	}
	m := doc.Content[0]
	out := make(map[string]any, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nil, eris.New("non-scalar key")
		}
		if v.Kind == yaml.ScalarNode && v.Style == 0 && v.Value == "None" {
			out[k.Value] = nil
			continue
		}
		var val any
		if err := v.Decode(&val); err != nil {
			return nil, err
		}
		out[k.Value] = val
	}
	return out, nil
}

var literalTokens = strings.NewReplacer(": True", ": true", ": False", ": false", ": None", ": null")

func decodeJSONish(body string) (map[string]any, error) {
	s := literalTokens.Replace(body)
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, eris.New("not an object")
	}
	return out, nil
}
