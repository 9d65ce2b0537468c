// Package bencode implements canonical bencoding (§4.8): the deterministic
// serialization primitive that both the ContentId derivation (pkg/contentid)
// and the descriptor builder in this package rely on. The API shape
// (Marshal/Unmarshal/CanonicalBytes/IsCanonical) mirrors
// pkg/codec/cborcanon's canonical-CBOR helpers, but the byte grammar here is
// BitTorrent-style bencoding, not CBOR, because the spec fixes this exact
// wire format for descriptors and metadata hashing.
package bencode

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Dict is a bencode dictionary; its keys are sorted when it is encoded,
// not when it is built. Values must be one
// of: int64, []byte, string, List, or Dict. Booleans are not representable
// (§4.8), matching the spec's tagged-variant metadata model.
type Dict map[string]interface{}

// List is a bencode list; element order is preserved.
type List []interface{}

// Marshal encodes v into canonical bencoded bytes. Supported types: int,
// int64, uint64, []byte, string, List, Dict.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalDict is a convenience wrapper for the common case of encoding a
// top-level dictionary.
func MarshalDict(d Dict) ([]byte, error) {
	return Marshal(d)
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case int:
		return encodeInt(buf, int64(val))
	case int64:
		return encodeInt(buf, val)
	case uint64:
		return encodeInt(buf, int64(val))
	case uint32:
		return encodeInt(buf, int64(val))
	case string:
		return encodeBytes(buf, []byte(val))
	case []byte:
		return encodeBytes(buf, val)
	case List:
		return encodeList(buf, val)
	case []interface{}:
		return encodeList(buf, List(val))
	case Dict:
		return encodeDict(buf, val)
	case map[string]interface{}:
		return encodeDict(buf, Dict(val))
	case bool:
		return fmt.Errorf("bencode: booleans are not representable (§4.8)")
	default:
		return fmt.Errorf("bencode: unsupported type %T", v)
	}
}

func encodeInt(buf *bytes.Buffer, v int64) error {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(v, 10))
	buf.WriteByte('e')
	return nil
}

func encodeBytes(buf *bytes.Buffer, v []byte) error {
	buf.WriteString(strconv.Itoa(len(v)))
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

func encodeList(buf *bytes.Buffer, v List) error {
	buf.WriteByte('l')
	for _, item := range v {
		if err := encode(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

func encodeDict(buf *bytes.Buffer, v Dict) error {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	// Keys are byte strings sorted by raw byte lexicographic order (§4.8).
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	buf.WriteByte('d')
	for _, k := range keys {
		if err := encodeBytes(buf, []byte(k)); err != nil {
			return err
		}
		if err := encode(buf, v[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

// Unmarshal decodes bencoded data into a generic value: int64, []byte,
// List, or Dict (with string keys).
func Unmarshal(data []byte) (interface{}, error) {
	v, rest, err := decode(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("bencode: %d trailing bytes after value", len(rest))
	}
	return v, nil
}

func decode(data []byte) (interface{}, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("bencode: unexpected end of input")
	}

	switch data[0] {
	case 'i':
		return decodeInt(data)
	case 'l':
		return decodeList(data)
	case 'd':
		return decodeDict(data)
	default:
		if data[0] >= '0' && data[0] <= '9' {
			return decodeBytes(data)
		}
		return nil, nil, fmt.Errorf("bencode: invalid leading byte %q", data[0])
	}
}

func decodeInt(data []byte) (interface{}, []byte, error) {
	end := bytes.IndexByte(data, 'e')
	if end < 0 {
		return nil, nil, fmt.Errorf("bencode: unterminated integer")
	}
	numStr := string(data[1:end])
	if numStr == "" || numStr == "-" {
		return nil, nil, fmt.Errorf("bencode: empty integer")
	}
	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("bencode: invalid integer %q: %w", numStr, err)
	}
	return n, data[end+1:], nil
}

func decodeBytes(data []byte) (interface{}, []byte, error) {
	colon := bytes.IndexByte(data, ':')
	if colon < 0 {
		return nil, nil, fmt.Errorf("bencode: missing length delimiter")
	}
	length, err := strconv.Atoi(string(data[:colon]))
	if err != nil || length < 0 {
		return nil, nil, fmt.Errorf("bencode: invalid string length")
	}
	start := colon + 1
	if start+length > len(data) {
		return nil, nil, fmt.Errorf("bencode: string length exceeds input")
	}
	out := make([]byte, length)
	copy(out, data[start:start+length])
	return out, data[start+length:], nil
}

func decodeList(data []byte) (interface{}, []byte, error) {
	rest := data[1:]
	var list List
	for {
		if len(rest) == 0 {
			return nil, nil, fmt.Errorf("bencode: unterminated list")
		}
		if rest[0] == 'e' {
			return list, rest[1:], nil
		}
		item, next, err := decode(rest)
		if err != nil {
			return nil, nil, err
		}
		list = append(list, item)
		rest = next
	}
}

func decodeDict(data []byte) (interface{}, []byte, error) {
	rest := data[1:]
	dict := Dict{}
	var lastKey string
	first := true
	for {
		if len(rest) == 0 {
			return nil, nil, fmt.Errorf("bencode: unterminated dict")
		}
		if rest[0] == 'e' {
			return dict, rest[1:], nil
		}
		keyVal, next, err := decodeBytes(rest)
		if err != nil {
			return nil, nil, fmt.Errorf("bencode: dict key: %w", err)
		}
		key := string(keyVal.([]byte))
		if !first && key <= lastKey {
			return nil, nil, fmt.Errorf("bencode: dict keys not in canonical order: %q after %q", key, lastKey)
		}
		lastKey, first = key, false

		val, next2, err := decode(next)
		if err != nil {
			return nil, nil, err
		}
		dict[key] = val
		rest = next2
	}
}

// CanonicalBytes re-serializes already-encoded bencode data through a
// decode/encode round trip, normalizing dict key order.
func CanonicalBytes(data []byte) ([]byte, error) {
	v, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("bencode: invalid input: %w", err)
	}
	return Marshal(v)
}

// IsCanonical reports whether data is already in canonical bencoded form.
func IsCanonical(data []byte) bool {
	canon, err := CanonicalBytes(data)
	if err != nil {
		return false
	}
	return bytes.Equal(data, canon)
}
