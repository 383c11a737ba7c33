package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type idKind byte

const (
	idNull idKind = iota
	idNumber
	idString
)

// ID is a correlation token: a JSON number, a JSON string or null.
// IDs are comparable and can be used as map keys.
type ID struct {
	kind idKind
	num  int64
	str  string
}

// NumberID returns an ID that encodes as a bare JSON integer.
func NumberID(n int64) ID {
	return ID{kind: idNumber, num: n}
}

// StringID returns an ID that encodes as a quoted JSON string.
func StringID(s string) ID {
	return ID{kind: idString, str: s}
}

// IsNull reports whether the ID is absent or JSON null.
func (id ID) IsNull() bool { return id.kind == idNull }

// Number returns the numeric value and whether the ID is numeric.
func (id ID) Number() (int64, bool) { return id.num, id.kind == idNumber }

func (id ID) String() string {
	switch id.kind {
	case idNumber:
		return strconv.FormatInt(id.num, 10)
	case idString:
		return strconv.Quote(id.str)
	}
	return "null"
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idNumber:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	case idString:
		return json.Marshal(id.str)
	}
	return []byte("null"), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be an integer, a string or null, got %s", data)
	}
	*id = NumberID(n)
	return nil
}
