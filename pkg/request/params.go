package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
)

// ValueKind identifies what a parameter value carries.
type ValueKind int

const (
	// KindString is a plain text value.
	KindString ValueKind = iota

	// KindBlob is raw bytes sent as a form value.
	KindBlob

	// KindFile is a file payload, forcing a multipart POST.
	KindFile
)

// File is a file payload attached to a request (e.g. action=upload).
// Data is held in memory so the request can be resent on retry.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Value is a single parameter value.
type Value struct {
	kind ValueKind
	str  string
	blob []byte
	file *File
}

// String creates a text value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Int creates a text value from an integer.
func Int(n int) Value {
	return String(strconv.Itoa(n))
}

// Bool creates a MediaWiki boolean flag. The API treats the mere presence of
// a parameter as true, so callers should not set false flags at all.
func Bool() Value {
	return String("1")
}

// Blob creates a byte value.
func Blob(b []byte) Value {
	return Value{kind: KindBlob, blob: append([]byte(nil), b...)}
}

// FileValue creates a file payload value.
func FileValue(f File) Value {
	cp := f
	cp.Data = append([]byte(nil), f.Data...)
	return Value{kind: KindFile, file: &cp}
}

// Kind returns the value kind.
func (v Value) Kind() ValueKind { return v.kind }

// Text returns the textual form. Files yield their file name.
func (v Value) Text() string {
	switch v.kind {
	case KindBlob:
		return string(v.blob)
	case KindFile:
		return v.file.Name
	default:
		return v.str
	}
}

// File returns the file payload, or nil for non-file values.
func (v Value) File() *File { return v.file }

// Equal reports whether two values are bytewise identical.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBlob:
		return bytes.Equal(v.blob, o.blob)
	case KindFile:
		return v.file.Name == o.file.Name &&
			v.file.ContentType == o.file.ContentType &&
			bytes.Equal(v.file.Data, o.file.Data)
	default:
		return v.str == o.str
	}
}

// Params is an ordered mapping of parameter names to values.
// The zero value is an empty mapping ready to use.
type Params struct {
	keys []string
	vals map[string]Value
}

// NewParams builds a mapping from alternating name/value string pairs.
func NewParams(pairs ...string) *Params {
	p := &Params{}
	for i := 0; i+1 < len(pairs); i += 2 {
		p.Set(pairs[i], String(pairs[i+1]))
	}
	return p
}

// Set stores a value. Overwriting keeps the original position.
func (p *Params) Set(name string, v Value) {
	if p.vals == nil {
		p.vals = make(map[string]Value)
	}
	if _, ok := p.vals[name]; !ok {
		p.keys = append(p.keys, name)
	}
	p.vals[name] = v
}

// SetString is shorthand for Set(name, String(s)).
func (p *Params) SetString(name, s string) {
	p.Set(name, String(s))
}

// Get returns the value for name.
func (p *Params) Get(name string) (Value, bool) {
	if p == nil {
		return Value{}, false
	}
	v, ok := p.vals[name]
	return v, ok
}

// Delete removes name from the mapping.
func (p *Params) Delete(name string) {
	if _, ok := p.vals[name]; !ok {
		return
	}
	delete(p.vals, name)
	for i, k := range p.keys {
		if k == name {
			p.keys = append(p.keys[:i:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the parameter names in insertion order.
func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.keys...)
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Clone returns an independent copy.
func (p *Params) Clone() *Params {
	out := &Params{}
	if p == nil {
		return out
	}
	out.keys = append([]string(nil), p.keys...)
	out.vals = make(map[string]Value, len(p.vals))
	for k, v := range p.vals {
		out.vals[k] = v
	}
	return out
}

// Merge returns a new mapping: p with every entry of other applied on top.
// Keys shared with p are overwritten in place, new keys are appended.
func (p *Params) Merge(other *Params) *Params {
	out := p.Clone()
	if other == nil {
		return out
	}
	for _, k := range other.keys {
		out.Set(k, other.vals[k])
	}
	return out
}

// Equal reports whether both mappings hold the same keys, order and values.
func (p *Params) Equal(o *Params) bool {
	if p.Len() != o.Len() {
		return false
	}
	for i, k := range p.Keys() {
		if o.keys[i] != k || !p.vals[k].Equal(o.vals[k]) {
			return false
		}
	}
	return true
}

// HasFile reports whether any value is a file payload.
func (p *Params) HasFile() bool {
	if p == nil {
		return false
	}
	for _, v := range p.vals {
		if v.kind == KindFile {
			return true
		}
	}
	return false
}

// Encode returns the non-file values as url.Values.
func (p *Params) Encode() url.Values {
	out := url.Values{}
	if p == nil {
		return out
	}
	for _, k := range p.keys {
		v := p.vals[k]
		if v.kind == KindFile {
			continue
		}
		out.Set(k, v.Text())
	}
	return out
}

// MarshalJSON encodes the mapping as a JSON object in insertion order.
// Only text values are representable; blobs and files are rejected.
func (p *Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.Keys() {
		v := p.vals[k]
		if v.kind != KindString {
			return nil, fmt.Errorf("param %q: only string values can be marshaled", k)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(k)
		val, _ := json.Marshal(v.str)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object keeping key order.
// Numbers and booleans are converted to their textual form.
func (p *Params) UnmarshalJSON(data []byte) error {
	parsed, err := ParseObject(data)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// ParseObject decodes a flat JSON object into an ordered mapping.
func ParseObject(data []byte) (*Params, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read object start: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	out := &Params{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("read value for %q: %w", key, err)
		}
		text, present, err := scalarText(raw)
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}
		if present {
			out.SetString(key, text)
		}
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read object end: %w", err)
	}
	return out, nil
}

// scalarText renders a JSON scalar as parameter text. false and null report
// not present: the server treats any sent parameter as a raised flag.
func scalarText(raw json.RawMessage) (string, bool, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false, err
	}
	switch t := v.(type) {
	case string:
		return t, true, nil
	case json.Number:
		return t.String(), true, nil
	case bool:
		if t {
			return "1", true, nil
		}
		return "", false, nil
	case nil:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("unsupported non-scalar value %s", string(raw))
	}
}
