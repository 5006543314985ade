package grouping

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"diffsum/cli/internal/diff"
)

// ErrParseFailed is returned when a suggested partition cannot be read as
// {"groups":[{"name":...,"description":...,"files":[...]}]}.
var ErrParseFailed = errors.New("grouping: unparseable suggestion")

// ParseSuggestion reads a model response proposing a partition of files.
// File references are 1-based indices into files. Indices out of range or
// already claimed by an earlier group are dropped; groups left empty are
// dropped; files claimed by no group are appended as single-file groups.
// Any shape mismatch returns ErrParseFailed.
func ParseSuggestion(raw string, files []diff.FileDiff) ([]FileGroup, error) {
	body, ok := jsonObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrParseFailed)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	rawGroups, ok := top["groups"]
	if !ok {
		return nil, fmt.Errorf("%w: missing groups", ErrParseFailed)
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(rawGroups, &entries); err != nil {
		return nil, fmt.Errorf("%w: groups: %v", ErrParseFailed, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no groups", ErrParseFailed)
	}

	claimed := make([]bool, len(files))
	var out []FileGroup
	for i, e := range entries {
		name, err := stringField(e, "name", true)
		if err != nil {
			return nil, fmt.Errorf("%w: group %d: %v", ErrParseFailed, i+1, err)
		}
		desc, err := stringField(e, "description", false)
		if err != nil {
			return nil, fmt.Errorf("%w: group %d: %v", ErrParseFailed, i+1, err)
		}
		rawIdx, ok := e["files"]
		if !ok {
			return nil, fmt.Errorf("%w: group %d: missing files", ErrParseFailed, i+1)
		}
		var idx []int
		if err := json.Unmarshal(rawIdx, &idx); err != nil {
			return nil, fmt.Errorf("%w: group %d: files: %v", ErrParseFailed, i+1, err)
		}
		var members []diff.FileDiff
		for _, n := range idx {
			n--
			if n < 0 || n >= len(files) || claimed[n] {
				continue
			}
			claimed[n] = true
			members = append(members, files[n])
		}
		if len(members) == 0 {
			continue
		}
		out = append(out, NewGroup(name, desc, members))
	}
	for i, f := range files {
		if !claimed[i] {
			out = append(out, NewGroup(f.Path, "", []diff.FileDiff{f}))
		}
	}
	return out, nil
}

// jsonObject returns the text from the first "{" to the last "}", which
// drops code fences and prose around the object.
func jsonObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}

func stringField(m map[string]json.RawMessage, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || string(v) == "null" {
		if required {
			return "", fmt.Errorf("missing %s", key)
		}
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%s: %v", key, err)
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", fmt.Errorf("empty %s", key)
	}
	return s, nil
}
