// Copyright 2025 Swixixle
//
// Deterministic JSON canonicalization (c14n v1)
//
// Encode produces a single canonical byte representation for any
// JSON-compatible value. It is load-bearing for the entire protocol: every
// hash and every signature in CDIL is computed over these bytes, so any
// drift here silently invalidates the whole certificate corpus.
//
// Canonicalization rules (v1, frozen):
//  1. UTF-8 output
//  2. No whitespace outside strings
//  3. Object keys sorted ascending by Unicode code point
//  4. Array order preserved verbatim
//  5. Strings JSON-escaped, Unicode passes through as UTF-8
//  6. Numbers in minimal JSON form; NaN/Infinity rejected
//  7. Booleans as lowercase true/false, null as null
//
// Any change to these rules is a new canonicalization version and requires
// a coordinated migration of every stored signature.

package c14n

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Supported value space: nil, bool, int/int64, float64, string,
// []interface{}, map[string]interface{}, and json.Number from decoded wire
// JSON. Anything else is a hard failure.

// Encode returns the canonical UTF-8 byte representation of v.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeString is a convenience wrapper returning the canonical form as a
// string, for callers that store or concatenate it as text.
func EncodeString(v interface{}) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses wire JSON into the supported value space. Numbers decode
// through json.Number so integers survive without float rounding; the result
// round-trips through Encode byte-identically.
func Decode(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode json: trailing data after value")
	}
	return v, nil
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		encodeString(buf, val)
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case float64:
		return encodeFloat(buf, val)
	case json.Number:
		return encodeNumber(buf, val)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		// Byte-wise sort of UTF-8 strings equals code-point order.
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encodeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("c14n: unsupported type %T", v)
	}
	return nil
}

// encodeFloat emits the minimal JSON form of a finite float64. Integral
// floats emit without a fractional part, matching the minimal-form rule.
func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("c14n: non-finite number not allowed")
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	// FormatFloat may emit "1e+21"; JSON exponent form needs no '+' removal,
	// but we normalize to lowercase 'e' without a leading '+' on the
	// exponent for a single frozen representation.
	s = strings.Replace(s, "e+", "e", 1)
	buf.WriteString(s)
	return nil
}

// encodeNumber handles json.Number from decoded wire JSON: integral literals
// stay integers, everything else goes through the float path.
func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		i, err := n.Int64()
		if err != nil {
			return fmt.Errorf("c14n: integer out of range: %s", s)
		}
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("c14n: invalid number: %s", s)
	}
	return encodeFloat(buf, f)
}

const hexDigits = "0123456789abcdef"

// encodeString writes a JSON string with standard escaping. Unicode above
// U+001F passes through as UTF-8; only the mandatory escapes are used.
func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < 0x80 {
			switch {
			case c == '"':
				buf.WriteString(`\"`)
			case c == '\\':
				buf.WriteString(`\\`)
			case c == '\b':
				buf.WriteString(`\b`)
			case c == '\f':
				buf.WriteString(`\f`)
			case c == '\n':
				buf.WriteString(`\n`)
			case c == '\r':
				buf.WriteString(`\r`)
			case c == '\t':
				buf.WriteString(`\t`)
			case c < 0x20:
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
			default:
				buf.WriteByte(c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			// Invalid UTF-8 is replaced, same as encoding/json.
			buf.WriteString(`�`)
			i++
			continue
		}
		buf.WriteString(s[i : i+size])
		i += size
	}
	buf.WriteByte('"')
}
