// Package rules loads per-repository exclusion rules from
// .diffsum/exclude.yaml and applies them to the diff filter options.
//
//	exclude: ["*.pb.go", "testdata/"]   # added to the defaults
//	keep: ["dist/"]                     # default patterns to drop
//	replace_defaults: false             # true starts from an empty list
package rules

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"diffsum/cli/internal/diff"
	"diffsum/cli/internal/erruser"
)

// Filename is the rules file path relative to the repository root.
var Filename = filepath.Join(".diffsum", "exclude.yaml")

// Rules are the exclusion settings of one repository.
type Rules struct {
	Exclude         []string
	Keep            []string
	ReplaceDefaults bool
}

// file is the YAML shape. exclude and keep accept a string or a list.
type file struct {
	Exclude         interface{} `yaml:"exclude"`
	Keep            interface{} `yaml:"keep"`
	ReplaceDefaults bool        `yaml:"replace_defaults"`
}

// Load reads repoRoot/.diffsum/exclude.yaml. A missing file returns zero
// Rules and no error; unreadable or invalid YAML returns a user error.
func Load(repoRoot string) (Rules, error) {
	path := filepath.Join(repoRoot, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Rules{}, nil
		}
		return Rules{}, erruser.New("Could not read "+Filename+".", err)
	}
	return Parse(data)
}

// Parse decodes rules from YAML.
func Parse(data []byte) (Rules, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Rules{}, erruser.New("Invalid exclusion rules in "+Filename+".", err)
	}
	return Rules{
		Exclude:         normalizePatterns(f.Exclude),
		Keep:            normalizePatterns(f.Keep),
		ReplaceDefaults: f.ReplaceDefaults,
	}, nil
}

// Apply returns opts with the rules folded in: the base pattern list
// (opts.Patterns, or the defaults) minus Keep, or empty when
// ReplaceDefaults is set, and Exclude appended to opts.Extra.
func (r Rules) Apply(opts diff.FilterOptions) diff.FilterOptions {
	base := opts.Patterns
	if base == nil {
		base = diff.DefaultExcludePatterns
	}
	patterns := []string{}
	if !r.ReplaceDefaults {
		for _, p := range base {
			if !slices.Contains(r.Keep, p) {
				patterns = append(patterns, p)
			}
		}
	}
	opts.Patterns = patterns
	extra := make([]string, 0, len(opts.Extra)+len(r.Exclude))
	extra = append(extra, opts.Extra...)
	opts.Extra = append(extra, r.Exclude...)
	return opts
}

func normalizePatterns(v interface{}) []string {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}
		}
	case []interface{}:
		var out []string
		for _, item := range x {
			if s, ok := item.(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					out = append(out, filepath.ToSlash(t))
				}
			}
		}
		return out
	}
	return nil
}
