package lang

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed builtins.yaml
var defaultBuiltinsYAML []byte

// builtinEntry is one block of builtins.yaml.
type builtinEntry struct {
	Languages []Language `yaml:"languages"`
	Names     []string   `yaml:"names"`
	Methods   []string   `yaml:"methods"`
	Receivers []string   `yaml:"receivers"`
}

// Builtins holds the builtin functions, builtin-type methods and stdlib
// receivers of one language.
type Builtins struct {
	Names     map[string]bool
	Methods   map[string]bool
	Receivers map[string]bool
}

// selfReceivers name the enclosing instance or class. Calls on them target
// the project's own methods.
var selfReceivers = map[string]bool{"self": true, "this": true, "cls": true, "$this": true}

// Denylist maps each language to its builtins. It is immutable once built.
type Denylist map[Language]*Builtins

// DefaultDenylist parses the embedded builtins table.
func DefaultDenylist() (Denylist, error) {
	return ParseDenylist(defaultBuiltinsYAML)
}

// LoadDenylist reads a builtins table in the same format from path.
func LoadDenylist(path string) (Denylist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read builtins: %w", err)
	}
	return ParseDenylist(data)
}

// ParseDenylist decodes a YAML builtins table.
func ParseDenylist(data []byte) (Denylist, error) {
	var entries []builtinEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse builtins: %w", err)
	}
	d := Denylist{}
	for _, e := range entries {
		for _, l := range e.Languages {
			b := d[l]
			if b == nil {
				b = &Builtins{Names: map[string]bool{}, Methods: map[string]bool{}, Receivers: map[string]bool{}}
				d[l] = b
			}
			for _, n := range e.Names {
				b.Names[n] = true
			}
			for _, m := range e.Methods {
				b.Methods[m] = true
			}
			for _, r := range e.Receivers {
				b.Receivers[r] = true
			}
		}
	}
	return d, nil
}

// IsBuiltin reports whether a call to name on receiver (root identifier of the
// receiver expression, may be empty) is a builtin of language l. Bare calls
// match Names only; calls on self or this never match Methods.
func (d Denylist) IsBuiltin(l Language, name, receiver string) bool {
	b := d[l]
	if b == nil {
		return false
	}
	switch {
	case receiver == "":
		return b.Names[name]
	case b.Receivers[receiver]:
		return true
	case selfReceivers[receiver]:
		return false
	default:
		return b.Methods[name]
	}
}
