package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is one result card flattened to field name/value pairs, kept in the
// order the card rendered them.
type Record struct {
	names  []string
	values map[string]string
}

// NewRecord builds a Record from alternating name, value arguments.
func NewRecord(pairs ...string) Record {
	var r Record
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

// Set assigns value to name. An existing name keeps its position.
func (r *Record) Set(name, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = value
}

// Get returns the value stored under name.
func (r Record) Get(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Names returns the field names in render order.
func (r Record) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r Record) Len() int { return len(r.names) }

// Clone returns a deep copy.
func (r Record) Clone() Record {
	c := Record{
		names:  make([]string, len(r.names)),
		values: make(map[string]string, len(r.values)),
	}
	copy(c.names, r.names)
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// MarshalJSON encodes the record as an object whose members follow field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat object of strings, keeping document order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected object, got %v", tok)
	}
	*r = Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected field name, got %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("record: field %q: %w", name, err)
		}
		r.Set(name, value)
	}
	_, err = dec.Token()
	return err
}

// UnknownTotal is shown while the pagination widget has not rendered its last page.
const UnknownTotal = "?"

// Position is where the crawl currently stands in the result listing.
type Position struct {
	Page  int
	Total string
}

// Label renders the position as "Page n/total".
func (p Position) Label() string {
	total := p.Total
	if total == "" {
		total = UnknownTotal
	}
	return "Page " + strconv.Itoa(p.Page) + "/" + total
}

// TotalPages parses Total, returning 0 when it is unknown.
func (p Position) TotalPages() int {
	n, err := strconv.Atoi(p.Total)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
