// Package schema loads view-model definitions from YAML and turns them into
// Go struct types that bindings can be compiled against.
package schema

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Document describes one view model.
//
//	name: OrderPage
//	roles: Admin, Editor
//	fields:
//	  - name: Customer
//	    type: "*Customer"
//	  - name: Lines
//	    type: "[]OrderLine"
type Document struct {
	Name           string  `yaml:"name"`
	Description    string  `yaml:"description,omitempty"`
	AllowAnonymous bool    `yaml:"allowAnonymous,omitempty"`
	Roles          string  `yaml:"roles,omitempty"`
	Fields         []Field `yaml:"fields"`

	// Source is the file the document was read from, if any.
	Source string `yaml:"-"`
}

// Field is one member of a view model. Type is a basic type name, the name
// of another document, or one of those prefixed with "*", "[]" or
// "map[K]".
type Field struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	JSON string `yaml:"json,omitempty"`
}

var validName = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)

var basicTypes = map[string]reflect.Type{
	"string":  reflect.TypeOf(""),
	"bool":    reflect.TypeOf(false),
	"int":     reflect.TypeOf(0),
	"int32":   reflect.TypeOf(int32(0)),
	"int64":   reflect.TypeOf(int64(0)),
	"float32": reflect.TypeOf(float32(0)),
	"float64": reflect.TypeOf(float64(0)),
	"time":    reflect.TypeOf(time.Time{}),
	"any":     reflect.TypeOf((*any)(nil)).Elem(),
}

// Parse decodes a single YAML document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parsing view model: %w", err)
	}
	if err := doc.validate(); err != nil {
		return doc, err
	}
	return doc, nil
}

func (d Document) validate() error {
	if !validName.MatchString(d.Name) {
		return fmt.Errorf("invalid view model name %q", d.Name)
	}
	seen := map[string]bool{}
	for _, f := range d.Fields {
		if !validName.MatchString(f.Name) {
			return fmt.Errorf("view model %s: invalid field name %q", d.Name, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("view model %s: duplicate field %q", d.Name, f.Name)
		}
		seen[f.Name] = true
		if strings.TrimSpace(f.Type) == "" {
			return fmt.Errorf("view model %s: field %s has no type", d.Name, f.Name)
		}
	}
	return nil
}

// RoleList splits Roles on commas, dropping blank entries.
func (d Document) RoleList() []string {
	var out []string
	for _, r := range strings.Split(d.Roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// LoadDir reads every .yaml and .yml file in dir. Files that cannot be
// read or parsed are skipped with a warning.
func LoadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading schema directory: %w", err)
	}

	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ext := filepath.Ext(name); ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Printf("Warning: could not read %q: %v", name, err)
			continue
		}
		doc, err := Parse(data)
		if err != nil {
			log.Printf("Warning: could not parse %q: %v", name, err)
			continue
		}
		doc.Source = name
		docs = append(docs, doc)
	}

	log.Printf("Loaded %d view model(s) from %s", len(docs), dir)
	return docs, nil
}

// Build creates a struct type for every document. Documents may refer to
// each other in any order; cycles are rejected because struct types built
// at run time cannot refer to themselves.
func Build(docs []Document) (map[string]reflect.Type, error) {
	b := &builder{
		docs:  map[string]Document{},
		types: map[string]reflect.Type{},
		state: map[string]int{},
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		if _, dup := b.docs[d.Name]; dup {
			return nil, fmt.Errorf("view model %s defined twice", d.Name)
		}
		b.docs[d.Name] = d
		names = append(names, d.Name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := b.build(name); err != nil {
			return nil, err
		}
	}
	return b.types, nil
}

const (
	unvisited = iota
	visiting
	done
)

type builder struct {
	docs  map[string]Document
	types map[string]reflect.Type
	state map[string]int
}

func (b *builder) build(name string) (reflect.Type, error) {
	switch b.state[name] {
	case done:
		return b.types[name], nil
	case visiting:
		return nil, fmt.Errorf("view model %s refers to itself", name)
	}
	b.state[name] = visiting

	doc := b.docs[name]
	fields := make([]reflect.StructField, 0, len(doc.Fields))
	for _, f := range doc.Fields {
		t, err := b.resolve(strings.TrimSpace(f.Type))
		if err != nil {
			return nil, fmt.Errorf("view model %s, field %s: %w", name, f.Name, err)
		}
		tag := f.JSON
		if tag == "" {
			tag = lowerFirst(f.Name)
		}
		fields = append(fields, reflect.StructField{
			Name: f.Name,
			Type: t,
			Tag:  reflect.StructTag(fmt.Sprintf(`json:%q yaml:%q`, tag, tag)),
		})
	}

	t := reflect.StructOf(fields)
	b.types[name] = t
	b.state[name] = done
	return t, nil
}

func (b *builder) resolve(spec string) (reflect.Type, error) {
	switch {
	case strings.HasPrefix(spec, "*"):
		elem, err := b.resolve(spec[1:])
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil
	case strings.HasPrefix(spec, "[]"):
		elem, err := b.resolve(spec[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(spec, "map["):
		end := closingBracket(spec, 3)
		if end < 0 {
			return nil, fmt.Errorf("malformed map type %q", spec)
		}
		key, err := b.resolve(spec[4:end])
		if err != nil {
			return nil, err
		}
		if !key.Comparable() {
			return nil, fmt.Errorf("map key type %s is not comparable", key)
		}
		elem, err := b.resolve(spec[end+1:])
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(key, elem), nil
	}

	if t, ok := basicTypes[spec]; ok {
		return t, nil
	}
	if _, ok := b.docs[spec]; ok {
		return b.build(spec)
	}
	return nil, fmt.Errorf("unknown type %q", spec)
}

// closingBracket returns the index of the ']' matching the '[' at open.
func closingBracket(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func lowerFirst(s string) string {
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
