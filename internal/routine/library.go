package routine

import (
	"bufio"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

//go:embed scripts/*.lua
var builtinScripts embed.FS

// OriginBuiltin marks routines compiled into the binary.
const OriginBuiltin = "builtin"

// Routine is a named Lua script.
type Routine struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"-"`
	Origin      string `json:"origin"` // OriginBuiltin or the file path
}

// Parse builds a Routine from source. Leading "-- name:" and
// "-- description:" comments override fallbackName and set the description.
func Parse(fallbackName, source, origin string) Routine {
	r := Routine{Name: fallbackName, Source: source, Origin: origin}

	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "--")), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			if value != "" {
				r.Name = value
			}
		case "description":
			r.Description = value
		}
	}
	return r
}

// Library holds routines in load order, looked up case-insensitively.
type Library struct {
	routines *orderedmap.OrderedMap[string, Routine]
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{routines: orderedmap.New[string, Routine]()}
}

// Builtins returns a library with the embedded routines.
func Builtins() (*Library, error) {
	l := NewLibrary()
	err := fs.WalkDir(builtinScripts, "scripts", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := builtinScripts.ReadFile(path)
		if err != nil {
			return err
		}
		l.Add(Parse(scriptName(path), string(data), OriginBuiltin))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading builtin routines: %w", err)
	}
	return l, nil
}

// LoadDir adds every *.lua file in dir. A routine with the name of an
// existing one replaces it.
func (l *Library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading routines dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".lua") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading routine %s: %w", path, err)
		}
		l.Add(Parse(scriptName(e.Name()), string(data), path))
	}
	return nil
}

// Add inserts or replaces r.
func (l *Library) Add(r Routine) {
	l.routines.Set(strings.ToLower(r.Name), r)
}

// Lookup finds a routine by name, ignoring case.
func (l *Library) Lookup(name string) (Routine, bool) {
	return l.routines.Get(strings.ToLower(strings.TrimSpace(name)))
}

// List returns the routines in load order.
func (l *Library) List() []Routine {
	out := make([]Routine, 0, l.routines.Len())
	for pair := l.routines.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Names returns the routine names in load order.
func (l *Library) Names() []string {
	list := l.List()
	names := make([]string, len(list))
	for i, r := range list {
		names[i] = r.Name
	}
	return names
}

// scriptName turns "where_are_you.lua" into "where are you".
func scriptName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ReplaceAll(base, "_", " ")
}
