package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Params holds the arguments of a request: an ordered list or a key→value mapping.
//
// Params built by callers keep their Go values until encoded; params decoded from the
// wire keep the raw JSON so handlers can unmarshal into their own types.
type Params struct {
	list  []any
	named map[string]any
	raw   json.RawMessage
}

var errParamsShape = errors.New("params must be a JSON array or object")

// Positional builds ordered params. No arguments encode as [].
func Positional(args ...any) Params {
	if args == nil {
		args = []any{}
	}
	return Params{list: args}
}

// Named builds key→value params.
func Named(kv map[string]any) Params {
	if kv == nil {
		kv = map[string]any{}
	}
	return Params{named: kv}
}

// RawParams wraps already encoded params. The first token must open an array or object.
func RawParams(raw json.RawMessage) (Params, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Positional(), nil
	}
	if raw[0] != '[' && raw[0] != '{' {
		return Params{}, errParamsShape
	}
	return Params{raw: append(json.RawMessage(nil), raw...)}, nil
}

// IsNamed reports whether the params are a key→value mapping.
func (p Params) IsNamed() bool {
	if p.raw != nil {
		return p.raw[0] == '{'
	}
	return p.named != nil
}

// Len returns the number of positional arguments or named members.
func (p Params) Len() int {
	switch {
	case p.raw != nil:
		if p.IsNamed() {
			var m map[string]json.RawMessage
			if json.Unmarshal(p.raw, &m) != nil {
				return 0
			}
			return len(m)
		}
		var l []json.RawMessage
		if json.Unmarshal(p.raw, &l) != nil {
			return 0
		}
		return len(l)
	case p.named != nil:
		return len(p.named)
	}
	return len(p.list)
}

// Decode unmarshals the whole params value into v: a slice or struct for positional
// params, a struct or map for named ones.
func (p Params) Decode(v any) error {
	data, err := p.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Arg unmarshals the i-th positional argument into v. It reports false when the
// argument is absent, so handlers can apply defaults for optional trailing arguments.
func (p Params) Arg(i int, v any) (bool, error) {
	if p.IsNamed() {
		return false, fmt.Errorf("positional argument %d requested from named params", i)
	}
	var l []json.RawMessage
	if err := p.Decode(&l); err != nil {
		return false, err
	}
	if i < 0 || i >= len(l) {
		return false, nil
	}
	return true, json.Unmarshal(l[i], v)
}

// Field unmarshals the named member key into v, reporting whether it was present.
func (p Params) Field(key string, v any) (bool, error) {
	if !p.IsNamed() {
		return false, fmt.Errorf("named argument %q requested from positional params", key)
	}
	var m map[string]json.RawMessage
	if err := p.Decode(&m); err != nil {
		return false, err
	}
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (p Params) MarshalJSON() ([]byte, error) {
	switch {
	case p.raw != nil:
		return p.raw, nil
	case p.named != nil:
		return json.Marshal(p.named)
	case p.list == nil:
		return []byte("[]"), nil
	}
	return json.Marshal(p.list)
}

func (p *Params) UnmarshalJSON(data []byte) error {
	parsed, err := RawParams(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
