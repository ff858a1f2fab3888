package mineral

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// Truncation limits for oversized text fields. Dataset exports occasionally
// carry pipe-joined garbage in these columns; we truncate instead of
// failing the row.
const (
	MaxCrystalSystemLen = 64
	MaxSpaceGroupLen    = 64
	MaxStatusLen        = 64
)

// Timestamp layouts accepted from the upstream API, most specific first.
var sourceTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ErrMissingName is returned when a raw record has no usable mineral name.
var ErrMissingName = errors.New("mineral: record has no name")

// FromAPI transforms a decoded upstream JSON object into a canonical Record.
// Missing optional fields become zero values or empty collections, never
// absent. The same finalization runs for API and CSV sources.
func FromAPI(raw map[string]any) (*Record, error) {
	name := strings.TrimSpace(stringField(raw, "name"))
	if name == "" {
		return nil, ErrMissingName
	}

	r := &Record{
		Name:        name,
		Formula:     stringField(raw, "ima_formula"),
		SpaceGroup:  stringField(raw, "spacegroup"),
		Description: stringField(raw, "description"),
		IMAStatus:   stringField(raw, "ima_status"),
		CellA:       floatField(raw, "a"),
		CellB:       floatField(raw, "b"),
		CellC:       floatField(raw, "c"),
		CellAlpha:   floatField(raw, "alpha"),
		CellBeta:    floatField(raw, "beta"),
		CellGamma:   floatField(raw, "gamma"),
	}

	// Some records only carry the Mindat-style formula.
	if r.Formula == "" {
		r.Formula = stringField(raw, "mindat_formula")
	}

	if id := intField(raw, "id"); id != nil {
		r.ID = *id
	}

	r.CrystalClassID = intField(raw, "cclass")
	r.CrystalSystem = stringField(raw, "csystem")
	if r.CrystalSystem == "" && r.CrystalClassID != nil {
		r.CrystalSystem = CrystalClassName(r.CrystalClassID)
	}

	if elems, ok := raw["elements"].([]any); ok {
		for _, e := range elems {
			if s, ok := e.(string); ok && s != "" {
				r.Elements = append(r.Elements, s)
			}
		}
	}

	if ts := stringField(raw, "updttime"); ts != "" {
		if t, err := parseSourceTime(ts); err == nil {
			r.SourceUpdateTime = &t
		}
	}

	finalize(r)
	return r, nil
}

// FromCSV transforms a header-keyed dataset row into a canonical Record.
// Column names are matched exactly as exported; pipe-delimited multi-value
// fields use the first value as authoritative.
func FromCSV(row map[string]string) (*Record, error) {
	name := strings.TrimSpace(row["Mineral Name"])
	if name == "" {
		return nil, ErrMissingName
	}

	r := &Record{
		Name:          name,
		Formula:       strings.TrimSpace(row["IMA Chemistry (plain)"]),
		CrystalSystem: firstPipeValue(row["Crystal Systems"]),
		SpaceGroup:    firstPipeValue(row["Space Groups"]),
		IMAStatus:     firstPipeValue(row["IMA Status"]),
		Description:   strings.TrimSpace(row["Description"]),
	}

	if idStr := strings.TrimSpace(row["Mindat ID"]); idStr != "" {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil && id > 0 {
			r.ID = id
		}
	}

	if elems := strings.Fields(row["Chemistry Elements"]); len(elems) > 0 {
		r.Elements = elems
	}

	finalize(r)
	return r, nil
}

// finalize applies the defaulting shared by both ingestion paths.
func finalize(r *Record) {
	if r.ID == 0 {
		r.ID = placeholderID(r.Name)
	}
	if len(r.Elements) == 0 {
		r.Elements = ElementsFromFormula(r.Formula)
	}
	r.CrystalSystem = truncate(strings.TrimSpace(r.CrystalSystem), MaxCrystalSystemLen)
	r.SpaceGroup = truncate(strings.TrimSpace(r.SpaceGroup), MaxSpaceGroupLen)
	r.IMAStatus = truncate(strings.TrimSpace(r.IMAStatus), MaxStatusLen)
	r.LastUpdatedLocally = time.Now().UTC()
	r.IsActive = true
}

// placeholderID derives a stable negative ID from the mineral name for rows
// that arrive without an upstream ID. Negative IDs cannot collide with
// upstream-assigned ones.
func placeholderID(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	id := int64(h.Sum64() & 0x7fffffffffffffff)
	if id == 0 {
		id = 1
	}
	return -id
}

// firstPipeValue returns the first value of a pipe-delimited field.
func firstPipeValue(s string) string {
	first, _, _ := strings.Cut(s, "|")
	return strings.TrimSpace(first)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func parseSourceTime(s string) (time.Time, error) {
	for _, layout := range sourceTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// intField reads a numeric field that JSON decoding may have produced as
// float64 or that the API may serve as a string.
func intField(raw map[string]any, key string) *int64 {
	switch v := raw[key].(type) {
	case float64:
		n := int64(v)
		return &n
	case string:
		if v == "" {
			return nil
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

func floatField(raw map[string]any, key string) *float64 {
	switch v := raw[key].(type) {
	case float64:
		return &v
	case string:
		if v == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}
