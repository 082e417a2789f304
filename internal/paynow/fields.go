package paynow

import (
	"fmt"
	"net/url"
	"strings"
)

type Field struct {
	Key   string
	Value string
}

// Fields is a form body that keeps key order; the Paynow hash depends on it.
type Fields []Field

func (f Fields) Get(key string) string {
	for _, kv := range f {
		if strings.EqualFold(kv.Key, key) {
			return kv.Value
		}
	}
	return ""
}

func (f Fields) Has(key string) bool {
	for _, kv := range f {
		if strings.EqualFold(kv.Key, key) {
			return true
		}
	}
	return false
}

func (f Fields) Add(key, value string) Fields {
	return append(f, Field{Key: key, Value: value})
}

// Encode renders the fields as a form body in order.
func (f Fields) Encode() string {
	var b strings.Builder
	for i, kv := range f {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// Map returns the fields as a plain map, lower-cased keys.
func (f Fields) Map() map[string]string {
	m := make(map[string]string, len(f))
	for _, kv := range f {
		m[strings.ToLower(kv.Key)] = kv.Value
	}
	return m
}

// ParseFields decodes a url-encoded body without losing key order.
func ParseFields(body string) (Fields, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, "&")
	out := make(Fields, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("bad field name %q: %w", k, err)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("bad value for %q: %w", key, err)
		}
		out = append(out, Field{Key: key, Value: val})
	}
	return out, nil
}
