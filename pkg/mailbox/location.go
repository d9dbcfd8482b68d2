// Package mailbox normalises the service-location configuration used to reach a
// mailbox / almanac API service.
package mailbox

import (
	"fmt"
	"strings"

	"github.com/morezero/agent-router/pkg/agenterr"
)

// DefaultURL is the service used when no base URL is configured.
const DefaultURL = "https://agentverse.ai"

const defaultProtocol = "https"

// Location is a normalised service location.
type Location struct {
	Key        string `json:"agent_mailbox_key,omitempty"`
	BaseURL    string `json:"base_url"`
	Protocol   string `json:"protocol"`
	HTTPPrefix string `json:"http_prefix"`
	UseMailbox bool   `json:"use_mailbox"`
}

// Options is the explicit mapping form of a service-location config.
type Options struct {
	Key      string `json:"key"`
	BaseURL  string `json:"base_url"`
	Protocol string `json:"protocol"`
}

// HTTPURL returns the HTTP(S) base of the service, e.g. "https://agentverse.ai".
func (l Location) HTTPURL() string {
	return l.HTTPPrefix + "://" + l.BaseURL
}

// AlmanacAPIURL returns the almanac REST API root served by the location.
func (l Location) AlmanacAPIURL() string {
	return l.HTTPURL() + "/v1/almanac/"
}

// Parse normalises a string, Options, or string-keyed map config. A nil config
// yields the default location without a mailbox.
func Parse(config interface{}) (Location, error) {
	switch c := config.(type) {
	case nil:
		return ParseOptions(Options{}), nil
	case string:
		return ParseString(c), nil
	case Options:
		return ParseOptions(c), nil
	case map[string]string:
		return ParseOptions(Options{Key: firstNonEmpty(c["key"], c["agent_mailbox_key"]), BaseURL: c["base_url"], Protocol: c["protocol"]}), nil
	case map[string]interface{}:
		var o Options
		fields := []struct {
			name string
			dst  *string
		}{{"agent_mailbox_key", &o.Key}, {"key", &o.Key}, {"base_url", &o.BaseURL}, {"protocol", &o.Protocol}}
		for _, f := range fields {
			field, dst := f.name, f.dst
			v, ok := c[field]
			if !ok || v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return Location{}, agenterr.New(agenterr.CodeConfiguration, "service location field %s is %T, want string", field, v)
			}
			if s != "" {
				*dst = s
			}
		}
		return ParseOptions(o), nil
	default:
		return Location{}, agenterr.New(agenterr.CodeConfiguration, "unsupported service location config type %T", config)
	}
}

// ParseString interprets s as "key@base_url", a bare "scheme://host" URL, or a bare key,
// checked in that order.
func ParseString(s string) Location {
	key, baseURL := "", DefaultURL
	switch {
	case strings.Count(s, "@") == 1:
		key, baseURL, _ = strings.Cut(s, "@")
	case strings.Contains(s, "://"):
		baseURL = s
	default:
		key = s
	}
	return build(key, baseURL, "")
}

// ParseOptions normalises the mapping form.
func ParseOptions(o Options) Location {
	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return build(o.Key, baseURL, o.Protocol)
}

func build(key, baseURL, protocolOverride string) Location {
	var protocol string
	if scheme, host, ok := strings.Cut(baseURL, "://"); ok {
		protocol, baseURL = scheme, host
	}
	if protocolOverride != "" {
		protocol = protocolOverride
	}
	if protocol == "" {
		protocol = defaultProtocol
	}
	httpPrefix := "http"
	if protocol == "wss" || protocol == "https" {
		httpPrefix = "https"
	}
	return Location{
		Key:        key,
		BaseURL:    baseURL,
		Protocol:   protocol,
		HTTPPrefix: httpPrefix,
		UseMailbox: key != "",
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// String renders l without the key.
func (l Location) String() string {
	return fmt.Sprintf("%s://%s (mailbox=%t)", l.Protocol, l.BaseURL, l.UseMailbox)
}
