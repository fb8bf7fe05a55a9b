package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// wrapperKey is the optional top-level envelope some producers send.
const wrapperKey = "wgc"

// maxValueEcho bounds how much of a rejected raw value is echoed back.
const maxValueEcho = 64

// Report summarises what Decode did with a payload.
type Report struct {
	Applied  int                   // candidate field writes in the decoded update
	Rejected int                   // fields whose value could not be coerced
	Ignored  int                   // unknown sections and fields, shadowed aliases
	Errors   []*FieldCoercionError // one entry per rejected field, sorted
}

// Decode parses a producer payload into a sparse update.
//
// The payload must be a JSON object, optionally wrapped in a top-level "wgc"
// key. Known sections (gas, oper, health) must hold objects. Numeric values
// and numeric strings are accepted; anything else is rejected per field.
func Decode(raw []byte) (twin.Update, Report, error) {
	var u twin.Update
	var rep Report

	top, err := object(raw)
	if err != nil || top == nil {
		return u, rep, fmt.Errorf("ingest: payload must be a JSON object: %w", ErrInvalidPayload)
	}
	if inner, ok := top[wrapperKey]; ok {
		top, err = object(inner)
		if err != nil || top == nil {
			return u, rep, fmt.Errorf("ingest: %q must be a JSON object: %w", wrapperKey, ErrInvalidPayload)
		}
	}

	for section, body := range top {
		if !twin.IsSection(section) {
			rep.Ignored++
			continue
		}
		fields, err := object(body)
		if err != nil {
			return twin.Update{}, Report{}, fmt.Errorf("ingest: section %q must be an object: %w", section, ErrInvalidPayload)
		}
		for name, val := range fields {
			if section == twin.SectionGas && name == twin.CompositionField {
				decodeComposition(val, &u, &rep)
				continue
			}
			canon, ok := twin.Field(section, name)
			if !ok {
				rep.Ignored++
				continue
			}
			// A legacy alias is shadowed when the canonical name is also
			// present, whatever the key order.
			if canon != name {
				if _, both := fields[canon]; both {
					rep.Ignored++
					continue
				}
			}
			v, ok := coerce(val)
			if !ok {
				rep.reject(section, name, val)
				continue
			}
			u.Set(section, canon, v)
		}
	}

	sort.Slice(rep.Errors, func(i, j int) bool {
		a, b := rep.Errors[i], rep.Errors[j]
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		return a.Field < b.Field
	})
	rep.Applied = u.Len()
	return u, rep, nil
}

// decodeComposition replaces the species map with every valid species in
// val. A composition that is not an object is rejected as one field.
func decodeComposition(val json.RawMessage, u *twin.Update, rep *Report) {
	species, err := object(val)
	if err != nil || species == nil {
		rep.reject(twin.SectionGas, twin.CompositionField, val)
		return
	}
	comp := make(map[string]float64, len(species))
	for name, raw := range species {
		v, ok := coerce(raw)
		if !ok {
			rep.reject(twin.SectionGas, twin.CompositionField+"."+name, raw)
			continue
		}
		comp[name] = v
	}
	if len(comp) > 0 {
		u.Composition = comp
	}
}

func (r *Report) reject(section, field string, raw json.RawMessage) {
	echo := string(bytes.TrimSpace(raw))
	if len(echo) > maxValueEcho {
		n := maxValueEcho
		for n > 0 && !utf8.RuneStart(echo[n]) {
			n--
		}
		echo = echo[:n] + "..."
	}
	r.Rejected++
	r.Errors = append(r.Errors, &FieldCoercionError{Section: section, Field: field, Value: echo})
}

// object decodes raw as a JSON object. A JSON null yields a nil map and no
// error.
func object(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// coerce turns a JSON number or numeric string into a finite float64.
func coerce(raw json.RawMessage) (float64, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
