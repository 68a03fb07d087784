package lpc

import (
	"strconv"
	"strings"
)

// Encode renders an LPC value to its UTF-8 text representation. Booleans are
// always written as the integers 0/1 — the I3 wire has no boolean literal of
// its own.
func Encode(v Value) ([]byte, error) {
	var b strings.Builder
	if err := encodeValue(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func encodeValue(b *strings.Builder, v Value) error {
	switch x := v.(type) {
	case nil:
		b.WriteByte('0')
	case bool:
		if x {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	case int:
		b.WriteString(strconv.Itoa(x))
	case int32:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 64))
	case float64:
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case string:
		encodeString(b, x)
	case Bytes:
		encodeString(b, string(x))
	case []Value:
		return encodeArray(b, x)
	case *Map:
		return encodeMapping(b, x)
	default:
		return newError(-1, "unsupported type for LPC encoding: %T", v)
	}
	return nil
}

func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

func encodeArray(b *strings.Builder, arr []Value) error {
	b.WriteString("({")
	for _, item := range arr {
		if err := encodeValue(b, item); err != nil {
			return err
		}
		b.WriteByte(',')
	}
	b.WriteString("})")
	return nil
}

func encodeMapping(b *strings.Builder, m *Map) error {
	b.WriteString("([")
	var err error
	m.Each(func(key, value Value) {
		if err != nil {
			return
		}
		if e := encodeValue(b, key); e != nil {
			err = e
			return
		}
		b.WriteByte(':')
		if e := encodeValue(b, value); e != nil {
			err = e
			return
		}
		b.WriteByte(',')
	})
	if err != nil {
		return err
	}
	b.WriteString("])")
	return nil
}
