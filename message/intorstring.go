package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// IntOrString is a field some daemon payloads overload: a block height or a hash,
// a port or a service name. It encodes as a bare integer whenever its text is a
// canonical integer literal and as a quoted string otherwise, so "007" and "+5"
// stay strings.
type IntOrString struct {
	s string
}

// Int returns an integer-valued IntOrString.
func Int(n int64) IntOrString {
	return IntOrString{s: strconv.FormatInt(n, 10)}
}

// Str returns a string-valued IntOrString. A string holding an integer literal
// still encodes unquoted.
func Str(s string) IntOrString {
	return IntOrString{s: s}
}

// IsInt reports whether the value is a canonical integer literal.
func (v IntOrString) IsInt() bool {
	_, ok := v.Int64()
	return ok
}

// Int64 returns the integer value, if any. Only the form FormatInt would
// produce counts.
func (v IntOrString) Int64() (int64, bool) {
	n, err := strconv.ParseInt(v.s, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != v.s {
		return 0, false
	}
	return n, true
}

func (v IntOrString) String() string { return v.s }

func (v IntOrString) MarshalJSON() ([]byte, error) {
	if n, ok := v.Int64(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(v.s)
}

func (v *IntOrString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &v.s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("expected integer or string, got %s", data)
	}
	v.s = strconv.FormatInt(n, 10)
	return nil
}
