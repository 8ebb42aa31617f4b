package engine

import (
	"strconv"
	"strings"
)

// OptionSpec is one "option name ... type ..." advertisement.
type OptionSpec struct {
	Name    string
	Type    string
	Default string
	Min     int
	Max     int
	HasMin  bool
	HasMax  bool
}

var optionKeywords = map[string]bool{
	"type": true, "default": true, "min": true, "max": true, "var": true,
}

// parseOption parses an advertisement line. Option names may contain spaces.
func parseOption(line string) (OptionSpec, bool) {
	parts := strings.Fields(line)
	if len(parts) < 3 || parts[0] != "option" || parts[1] != "name" {
		return OptionSpec{}, false
	}
	var spec OptionSpec
	i := 2
	var name []string
	for ; i < len(parts) && !optionKeywords[parts[i]]; i++ {
		name = append(name, parts[i])
	}
	spec.Name = strings.Join(name, " ")
	for i < len(parts) {
		key := parts[i]
		i++
		var val []string
		for ; i < len(parts) && !optionKeywords[parts[i]]; i++ {
			val = append(val, parts[i])
		}
		v := strings.Join(val, " ")
		switch key {
		case "type":
			spec.Type = v
		case "default":
			spec.Default = v
		case "min":
			if n, err := strconv.Atoi(v); err == nil {
				spec.Min, spec.HasMin = n, true
			}
		case "max":
			if n, err := strconv.Atoi(v); err == nil {
				spec.Max, spec.HasMax = n, true
			}
		}
	}
	return spec, spec.Name != ""
}

// Options is the advertised option set, looked up case-insensitively.
type Options map[string]OptionSpec

func (o Options) add(spec OptionSpec) {
	o[strings.ToLower(spec.Name)] = spec
}

func (o Options) Lookup(name string) (OptionSpec, bool) {
	spec, ok := o[strings.ToLower(name)]
	return spec, ok
}

// InRange reports whether n fits the advertised spin bounds.
func (s OptionSpec) InRange(n int) bool {
	if s.HasMin && n < s.Min {
		return false
	}
	if s.HasMax && n > s.Max {
		return false
	}
	return true
}
