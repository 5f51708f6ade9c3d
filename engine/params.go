// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package engine

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ParamType is the semantic type tag carried by a bound parameter.
type ParamType int

const (
	ParamText ParamType = iota
	ParamInteger
	ParamReal
	ParamBoolean
	ParamNull
	ParamBinary
)

func (t ParamType) String() string {
	switch t {
	case ParamText:
		return "text"
	case ParamInteger:
		return "integer"
	case ParamReal:
		return "real"
	case ParamBoolean:
		return "boolean"
	case ParamNull:
		return "null"
	case ParamBinary:
		return "binary"
	}
	return "unknown"
}

// TypedParameter is one bound query parameter: a type tag plus the raw
// value, positionally matched to a placeholder in the rewritten SQL.
type TypedParameter struct {
	Name  string
	Type  ParamType
	Value interface{}
}

// driverValue converts the parameter into what database/sql drivers expect.
func (p TypedParameter) driverValue() interface{} {
	if p.Type == ParamNull {
		return nil
	}
	return p.Value
}

// placeholderPattern matches :name placeholders in SQL templates.
var placeholderPattern = regexp.MustCompile(`:[a-zA-Z_][a-zA-Z0-9_]*`)

// ProcessParameters converts a JSON parameter document plus a SQL template
// into a rewritten SQL string using the engine's native parameter markers
// and the ordered parameter list matching them. paramsJSON may be a JSON
// object (named parameters matched against :name placeholders), a JSON
// array (positional, matched against placeholders in template order), or
// empty. Unknown template placeholders and unreferenced supplied
// parameters are both rejected.
func ProcessParameters(paramsJSON json.RawMessage, template string, typ Type) (string, []TypedParameter, error) {
	matches := placeholderPattern.FindAllStringIndex(template, -1)
	// A ":name" directly preceded by another colon is the tail of a
	// ::type cast, not a placeholder; leave it untouched.
	kept := matches[:0]
	for _, m := range matches {
		if m[0] > 0 && template[m[0]-1] == ':' {
			continue
		}
		kept = append(kept, m)
	}
	matches = kept
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = template[m[0]+1 : m[1]]
	}

	trimmed := bytes.TrimSpace(paramsJSON)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if len(names) > 0 {
			return "", nil, errors.Errorf("template references parameter %q but no parameters supplied", names[0])
		}
		return template, nil, nil
	}

	var byName map[string]TypedParameter
	var positional []TypedParameter
	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", nil, errors.Wrap(err, "parsing parameter object")
		}
		byName = make(map[string]TypedParameter, len(obj))
		for k, raw := range obj {
			p, err := convertValue(k, raw)
			if err != nil {
				return "", nil, err
			}
			byName[k] = p
		}
		// Fail closed: every supplied name must appear in the template.
		referenced := make(map[string]bool, len(names))
		for _, n := range names {
			referenced[n] = true
		}
		for k := range byName {
			if !referenced[k] {
				return "", nil, errors.Errorf("parameter %q not referenced by query template", k)
			}
		}
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return "", nil, errors.Wrap(err, "parsing parameter array")
		}
		if len(arr) != len(names) {
			return "", nil, errors.Errorf("template has %d placeholders but %d parameters supplied", len(names), len(arr))
		}
		positional = make([]TypedParameter, len(arr))
		for i, raw := range arr {
			p, err := convertValue(names[i], raw)
			if err != nil {
				return "", nil, err
			}
			positional[i] = p
		}
	default:
		return "", nil, errors.New("parameters must be a JSON object or array")
	}

	// Rewrite placeholders left to right, collecting parameters in
	// placeholder order. A repeated named placeholder binds once per
	// occurrence.
	var sb strings.Builder
	ordered := make([]TypedParameter, 0, len(names))
	last := 0
	for i, m := range matches {
		sb.WriteString(template[last:m[0]])
		sb.WriteString(typ.placeholder(i + 1))
		last = m[1]

		if byName != nil {
			p, ok := byName[names[i]]
			if !ok {
				return "", nil, errors.Errorf("template references parameter %q but it was not supplied", names[i])
			}
			ordered = append(ordered, p)
		} else {
			ordered = append(ordered, positional[i])
		}
	}
	sb.WriteString(template[last:])

	return sb.String(), ordered, nil
}

// convertValue maps one JSON value to a TypedParameter: string->text,
// integer->integer, real->real, true/false->boolean, null->null. Arrays
// and objects are unsupported parameter values.
func convertValue(name string, raw json.RawMessage) (TypedParameter, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return TypedParameter{}, errors.Wrapf(err, "parsing value for parameter %q", name)
	}
	switch val := v.(type) {
	case nil:
		return TypedParameter{Name: name, Type: ParamNull}, nil
	case string:
		return TypedParameter{Name: name, Type: ParamText, Value: val}, nil
	case bool:
		return TypedParameter{Name: name, Type: ParamBoolean, Value: val}, nil
	case json.Number:
		if i, err := val.Int64(); err == nil && !strings.ContainsAny(val.String(), ".eE") {
			return TypedParameter{Name: name, Type: ParamInteger, Value: i}, nil
		}
		f, err := val.Float64()
		if err != nil {
			return TypedParameter{}, errors.Wrapf(err, "parsing number for parameter %q", name)
		}
		return TypedParameter{Name: name, Type: ParamReal, Value: f}, nil
	}
	return TypedParameter{}, errors.Errorf("unsupported value type for parameter %q", name)
}
