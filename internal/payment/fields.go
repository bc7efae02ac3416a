package payment

import (
	"net/url"
	"sort"
	"strings"
)

// Field is a single name/value pair exchanged with the gateway.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered list of gateway fields. Order is preserved for rendering;
// hashing always re-sorts by name, so insertion order never affects signatures.
type Fields []Field

// Get returns the value of the first field named exactly name.
func (f Fields) Get(name string) (string, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return "", false
}

// Value returns the value of name or an empty string.
func (f Fields) Value(name string) string {
	v, _ := f.Get(name)
	return v
}

// Set replaces the value of an existing field or appends a new one.
func (f Fields) Set(name, value string) Fields {
	for i := range f {
		if f[i].Name == name {
			f[i].Value = value
			return f
		}
	}
	return append(f, Field{Name: name, Value: value})
}

// Without returns a copy omitting every field whose name matches one of names case-insensitively.
func (f Fields) Without(names ...string) Fields {
	out := make(Fields, 0, len(f))
	for _, field := range f {
		if nameIn(field.Name, names) {
			continue
		}
		out = append(out, field)
	}
	return out
}

// Map flattens the fields into a map, suitable for JSON responses.
func (f Fields) Map() map[string]string {
	out := make(map[string]string, len(f))
	for _, field := range f {
		out[field.Name] = field.Value
	}
	return out
}

// FromValues converts a parsed form or query string into Fields. Keys are sorted
// for a stable order; repeated keys keep their first value.
func FromValues(values url.Values) Fields {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Fields, 0, len(keys))
	for _, k := range keys {
		var v string
		if vs := values[k]; len(vs) > 0 {
			v = vs[0]
		}
		out = append(out, Field{Name: k, Value: v})
	}
	return out
}

// FromMap converts a plain map into Fields sorted by key.
func FromMap(m map[string]string) Fields {
	values := make(url.Values, len(m))
	for k, v := range m {
		values.Set(k, v)
	}
	return FromValues(values)
}

func nameIn(name string, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(name, n) {
			return true
		}
	}
	return false
}
