package tree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrInvalidJSON indicates input that is not a single JSON value.
var ErrInvalidJSON = errors.New("invalid tree json")

// FromJSON decodes a JSON document into a tree, preserving object key order.
// Numbers and booleans become leaves holding their literal text.
func FromJSON(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return n, nil
}

// MarshalJSON encodes maps as objects in key order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	writeJSON(&b, n)
	return []byte(b.String()), nil
}

// UnmarshalJSON decodes any JSON value into n.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func decodeValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("%w: non-string key %v", ErrInvalidJSON, keyTok)
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				m.Set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
			}
			return m, nil
		case '[':
			l := List()
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				l.Append(v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
			}
			return l, nil
		default:
			return nil, fmt.Errorf("%w: unexpected %v", ErrInvalidJSON, t)
		}
	case nil:
		return Null(), nil
	case string:
		return Leaf(t), nil
	case json.Number:
		return Leaf(t.String()), nil
	case bool:
		return Leaf(strconv.FormatBool(t)), nil
	default:
		return nil, fmt.Errorf("%w: unexpected token %v", ErrInvalidJSON, tok)
	}
}

func writeJSON(b *strings.Builder, n *Node) {
	switch n.Kind() {
	case KindLeaf:
		writeString(b, n.text)
	case KindMap:
		b.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeString(b, k)
			b.WriteByte(':')
			writeJSON(b, n.values[k])
		}
		b.WriteByte('}')
	case KindList:
		b.WriteByte('[')
		for i, it := range n.items {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSON(b, it)
		}
		b.WriteByte(']')
	default:
		b.WriteString("null")
	}
}

func writeString(b *strings.Builder, s string) {
	enc, _ := json.Marshal(s) // marshaling a string cannot fail
	b.Write(enc)
}
