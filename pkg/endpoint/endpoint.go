// Package endpoint normalises endpoint configuration and selects weighted endpoints.
package endpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/morezero/agent-router/pkg/agenterr"
)

// DefaultWeight is used when an endpoint has no usable weight.
const DefaultWeight = 1

// Endpoint is a network location with a selection weight. Endpoints are not
// deduplicated by URL; repeated URLs count as independent capacity.
type Endpoint struct {
	URL    string `json:"url"`
	Weight int    `json:"weight"`
}

// Options is the per-URL value of a mapping-style endpoint config.
type Options struct {
	Weight int `json:"weight"`
}

// FromURLs returns urls with weight 1 each.
func FromURLs(urls []string) []Endpoint {
	out := make([]Endpoint, len(urls))
	for i, u := range urls {
		out[i] = Endpoint{URL: u, Weight: DefaultWeight}
	}
	return out
}

// URLs returns the URL of each endpoint in order.
func URLs(eps []Endpoint) []string {
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.URL
	}
	return out
}

// ParseConfig normalises a single URL string, a list of URL strings, or a mapping from
// URL to options into a list of endpoints. Mapping keys are emitted in sorted order;
// use ParseConfigJSON to keep document order. A nil config yields no endpoints.
func ParseConfig(config interface{}) ([]Endpoint, error) {
	switch c := config.(type) {
	case nil:
		return nil, nil
	case string:
		return []Endpoint{{URL: c, Weight: DefaultWeight}}, nil
	case []string:
		return FromURLs(c), nil
	case []interface{}:
		out := make([]Endpoint, 0, len(c))
		for i, v := range c {
			s, ok := v.(string)
			if !ok {
				return nil, agenterr.New(agenterr.CodeConfiguration, "endpoint list item %d is %T, want string", i, v)
			}
			out = append(out, Endpoint{URL: s, Weight: DefaultWeight})
		}
		return out, nil
	case []Endpoint:
		out := make([]Endpoint, len(c))
		for i, ep := range c {
			out[i] = Endpoint{URL: ep.URL, Weight: normalizeWeight(ep.Weight)}
		}
		return out, nil
	case map[string]Options:
		out := make([]Endpoint, 0, len(c))
		for _, u := range sortedKeys(c) {
			out = append(out, Endpoint{URL: u, Weight: normalizeWeight(c[u].Weight)})
		}
		return out, nil
	case map[string]interface{}:
		out := make([]Endpoint, 0, len(c))
		for _, u := range sortedKeys(c) {
			w, err := weightFromValue(u, c[u])
			if err != nil {
				return nil, err
			}
			out = append(out, Endpoint{URL: u, Weight: w})
		}
		return out, nil
	default:
		return nil, agenterr.New(agenterr.CodeConfiguration, "unsupported endpoint config type %T", config)
	}
}

// ParseConfigString parses an endpoint config from text: JSON when it starts with '[',
// '{' or '"', otherwise a single bare URL. Blank input yields no endpoints.
func ParseConfigString(s string) ([]Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	switch s[0] {
	case '[', '{', '"':
		return ParseConfigJSON([]byte(s))
	}
	return []Endpoint{{URL: s, Weight: DefaultWeight}}, nil
}

// ParseConfigJSON parses a JSON endpoint config, keeping mapping keys in document order.
func ParseConfigJSON(data []byte) ([]Endpoint, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] != '{' {
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, agenterr.Wrap(agenterr.CodeConfiguration, err, "invalid endpoint config JSON")
		}
		return ParseConfig(v)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, agenterr.Wrap(agenterr.CodeConfiguration, err, "invalid endpoint config JSON")
	}
	var out []Endpoint
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, agenterr.Wrap(agenterr.CodeConfiguration, err, "invalid endpoint config JSON")
		}
		u, ok := tok.(string)
		if !ok {
			return nil, agenterr.New(agenterr.CodeConfiguration, "endpoint config key %v is not a string", tok)
		}
		var val interface{}
		if err := dec.Decode(&val); err != nil {
			return nil, agenterr.Wrap(agenterr.CodeConfiguration, err, "invalid options for endpoint %s", u)
		}
		w, err := weightFromValue(u, val)
		if err != nil {
			return nil, err
		}
		out = append(out, Endpoint{URL: u, Weight: w})
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, agenterr.Wrap(agenterr.CodeConfiguration, err, "invalid endpoint config JSON")
	}
	return out, nil
}

func weightFromValue(u string, v interface{}) (int, error) {
	switch o := v.(type) {
	case nil:
		return DefaultWeight, nil
	case Options:
		return normalizeWeight(o.Weight), nil
	case map[string]interface{}:
		return weightOf(u, o["weight"])
	default:
		return 0, agenterr.New(agenterr.CodeConfiguration, "options for endpoint %s are %T, want object", u, v)
	}
}

// weightOf converts a loosely typed weight; anything missing, non-numeric or below 1
// becomes DefaultWeight. A fractional weight is a configuration error.
func weightOf(u string, v interface{}) (int, error) {
	var f float64
	switch w := v.(type) {
	case int:
		f = float64(w)
	case int64:
		f = float64(w)
	case float64:
		f = w
	case json.Number:
		parsed, err := w.Float64()
		if err != nil {
			return DefaultWeight, nil
		}
		f = parsed
	default:
		return DefaultWeight, nil
	}
	if math.IsNaN(f) || f < 1 || f > math.MaxInt32 {
		return DefaultWeight, nil
	}
	if f != math.Trunc(f) {
		return 0, agenterr.New(agenterr.CodeConfiguration, "weight %v for endpoint %s is not a whole number", v, u)
	}
	return int(f), nil
}

func normalizeWeight(w int) int {
	if w < 1 {
		return DefaultWeight
	}
	return w
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders eps for logs.
func String(eps []Endpoint) string {
	parts := make([]string, len(eps))
	for i, ep := range eps {
		parts[i] = fmt.Sprintf("%s(w=%d)", ep.URL, ep.Weight)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
