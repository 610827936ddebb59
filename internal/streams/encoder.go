package streams

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"streamchat/internal/domain"
)

const wordSize = 32

var ErrInvalidEncoding = errors.New("invalid encoded data")

// SchemaEncoder encodes and decodes records of one schema as a sequence of
// 32-byte words: static values inline, dynamic values (string, bytes) as an
// offset into a tail holding a length word and the zero-padded payload.
type SchemaEncoder struct {
	fields []SchemaField
}

// NewSchemaEncoder parses schema and returns an encoder for it
func NewSchemaEncoder(schema string) (*SchemaEncoder, error) {
	fields, err := ParseSchema(schema)
	if err != nil {
		return nil, err
	}
	return &SchemaEncoder{fields: fields}, nil
}

// Fields returns the parsed schema fields
func (e *SchemaEncoder) Fields() []SchemaField {
	return e.fields
}

// EncodeData encodes values in schema order. Each value's name and type must
// match the schema field at the same position.
func (e *SchemaEncoder) EncodeData(values []Field) ([]byte, error) {
	if len(values) != len(e.fields) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(e.fields), len(values))
	}

	head := make([]byte, 0, len(e.fields)*wordSize)
	var tail []byte

	for i, f := range e.fields {
		v := values[i]
		if v.Name != f.Name || v.Type != f.Type {
			return nil, fmt.Errorf("field %d: expected %s %s, got %s %s", i, f.Type, f.Name, v.Type, v.Name)
		}

		if isDynamic(f.Type) {
			payload, err := dynamicBytes(f.Type, v.Value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			head = append(head, uintWord(uint64(len(e.fields)*wordSize+len(tail)))...)
			tail = append(tail, uintWord(uint64(len(payload)))...)
			tail = append(tail, padRight(payload)...)
			continue
		}

		word, err := staticWord(f.Type, v.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		head = append(head, word...)
	}

	return append(head, tail...), nil
}

// DecodeData decodes data into fields. Integers decode to uint64 or int64,
// fixed-width values to 0x-prefixed hex strings and bytes to hex.
func (e *SchemaEncoder) DecodeData(data []byte) ([]Field, error) {
	if len(data) < len(e.fields)*wordSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the head", ErrInvalidEncoding, len(data))
	}

	out := make([]Field, 0, len(e.fields))
	for i, f := range e.fields {
		word := data[i*wordSize : (i+1)*wordSize]

		var value any
		var err error
		if isDynamic(f.Type) {
			value, err = decodeDynamic(f.Type, data, word)
		} else {
			value, err = decodeStatic(f.Type, word)
		}
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}

		out = append(out, Field{Name: f.Name, Type: f.Type, Value: value})
	}
	return out, nil
}

func isDynamic(t string) bool {
	return t == "string" || t == "bytes"
}

func dynamicBytes(t string, v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		if t == "bytes" {
			return decodeHexString(val)
		}
		return []byte(val), nil
	case []byte:
		return val, nil
	case HexBytes:
		return val, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported %s value of type %T", t, v)
}

func staticWord(t string, v any) ([]byte, error) {
	switch t {
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("unsupported bool value of type %T", v)
		}
		if b {
			return uintWord(1), nil
		}
		return uintWord(0), nil

	case "address":
		addr, err := toAddress(v)
		if err != nil {
			return nil, err
		}
		word := make([]byte, wordSize)
		copy(word[wordSize-domain.AddressLength:], addr[:])
		return word, nil

	case "bytes32":
		b, err := toBytes32(v)
		if err != nil {
			return nil, err
		}
		return b[:], nil
	}

	bits, _ := integerBits(t)
	if strings.HasPrefix(t, "uint") {
		n, err := toUint64(v)
		if err != nil {
			return nil, err
		}
		if bits < 64 && n >= 1<<uint(bits) {
			return nil, fmt.Errorf("value %d overflows %s", n, t)
		}
		return uintWord(n), nil
	}

	n, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	if bits < 64 {
		limit := int64(1) << uint(bits-1)
		if n < -limit || n >= limit {
			return nil, fmt.Errorf("value %d overflows %s", n, t)
		}
	}
	return intWord(n), nil
}

func decodeStatic(t string, word []byte) (any, error) {
	switch t {
	case "bool":
		switch word[wordSize-1] {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("%w: bool word", ErrInvalidEncoding)
	case "address":
		var addr domain.Address
		copy(addr[:], word[wordSize-domain.AddressLength:])
		return addr.Hex(), nil
	case "bytes32":
		return "0x" + hex.EncodeToString(word), nil
	}

	bits, _ := integerBits(t)
	if strings.HasPrefix(t, "uint") {
		if !allZero(word[:wordSize-8]) {
			return nil, fmt.Errorf("%w: %s overflows 64 bits", ErrInvalidEncoding, t)
		}
		n := binary.BigEndian.Uint64(word[wordSize-8:])
		if bits < 64 && n >= 1<<uint(bits) {
			return nil, fmt.Errorf("%w: value overflows %s", ErrInvalidEncoding, t)
		}
		return n, nil
	}
	return int64(binary.BigEndian.Uint64(word[wordSize-8:])), nil
}

func decodeDynamic(t string, data, word []byte) (any, error) {
	offset, err := wordToInt(word)
	if err != nil {
		return nil, err
	}
	if offset+wordSize > len(data) {
		return nil, fmt.Errorf("%w: offset %d out of range", ErrInvalidEncoding, offset)
	}
	length, err := wordToInt(data[offset : offset+wordSize])
	if err != nil {
		return nil, err
	}
	start := offset + wordSize
	if length > len(data)-start {
		return nil, fmt.Errorf("%w: length %d out of range", ErrInvalidEncoding, length)
	}
	payload := data[start : start+length]
	if t == "bytes" {
		return "0x" + hex.EncodeToString(payload), nil
	}
	return string(payload), nil
}

func wordToInt(word []byte) (int, error) {
	if !allZero(word[:wordSize-8]) {
		return 0, fmt.Errorf("%w: word too large", ErrInvalidEncoding)
	}
	n := binary.BigEndian.Uint64(word[wordSize-8:])
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: word too large", ErrInvalidEncoding)
	}
	return int(n), nil
}

func uintWord(n uint64) []byte {
	word := make([]byte, wordSize)
	binary.BigEndian.PutUint64(word[wordSize-8:], n)
	return word
}

func intWord(n int64) []byte {
	word := make([]byte, wordSize)
	if n < 0 {
		for i := range word {
			word[i] = 0xff
		}
	}
	binary.BigEndian.PutUint64(word[wordSize-8:], uint64(n))
	return word
}

func padRight(b []byte) []byte {
	if rem := len(b) % wordSize; rem != 0 {
		return append(append([]byte{}, b...), make([]byte, wordSize-rem)...)
	}
	return b
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func decodeHexString(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

func toAddress(v any) (domain.Address, error) {
	switch val := v.(type) {
	case domain.Address:
		return val, nil
	case string:
		return domain.ParseAddress(val)
	}
	return domain.Address{}, fmt.Errorf("unsupported address value of type %T", v)
}

func toBytes32(v any) ([32]byte, error) {
	switch val := v.(type) {
	case domain.RoomID:
		return val, nil
	case Hash:
		return val, nil
	case [32]byte:
		return val, nil
	case string:
		h, err := ParseHash(val)
		return h, err
	}
	return [32]byte{}, fmt.Errorf("unsupported bytes32 value of type %T", v)
}

func toUint64(v any) (uint64, error) {
	switch val := v.(type) {
	case uint64:
		return val, nil
	case int64:
		if val < 0 {
			return 0, fmt.Errorf("negative value %d for unsigned field", val)
		}
		return uint64(val), nil
	case int:
		if val < 0 {
			return 0, fmt.Errorf("negative value %d for unsigned field", val)
		}
		return uint64(val), nil
	case float64:
		if val < 0 || val != math.Trunc(val) || val > math.MaxUint64 {
			return 0, fmt.Errorf("invalid unsigned value %v", val)
		}
		return uint64(val), nil
	case json.Number:
		return strconv.ParseUint(val.String(), 10, 64)
	case string:
		return strconv.ParseUint(val, 10, 64)
	}
	return 0, fmt.Errorf("unsupported integer value of type %T", v)
}

func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", val)
		}
		return int64(val), nil
	case float64:
		if val != math.Trunc(val) {
			return 0, fmt.Errorf("invalid integer value %v", val)
		}
		return int64(val), nil
	case json.Number:
		return val.Int64()
	case string:
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, fmt.Errorf("unsupported integer value of type %T", v)
}
