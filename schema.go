package kcouch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// DatabaseSchema is the declared state of one database. A nil category is
// absent; an empty one still declares that the database must exist.
type DatabaseSchema struct {
	Designs map[string]DesignSpec                 `json:"designs"`
	Index   map[string]map[string]IndexDefinition `json:"index"`
}

// SchemaTree maps server alias to database name to declared schema.
type SchemaTree map[string]map[string]*DatabaseSchema

// Fragments maps a contributor name to the tree it declares.
type Fragments map[string]SchemaTree

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// Merge combines fragments into one tree. Every design and index design
// document name is prefixed with "<contributor>_" so contributors cannot
// collide. Inputs are not modified.
func Merge(fragments Fragments) SchemaTree {
	merged := SchemaTree{}
	for _, contributor := range sortedKeys(fragments) {
		for alias, databases := range fragments[contributor] {
			if merged[alias] == nil {
				merged[alias] = map[string]*DatabaseSchema{}
			}
			for name, db := range databases {
				target := merged[alias][name]
				if target == nil {
					target = &DatabaseSchema{}
					merged[alias][name] = target
				}
				if db == nil {
					continue
				}
				if db.Designs != nil {
					if target.Designs == nil {
						target.Designs = map[string]DesignSpec{}
					}
					for design, spec := range db.Designs {
						target.Designs[contributor+"_"+design] = spec.clone()
					}
				}
				if db.Index != nil {
					if target.Index == nil {
						target.Index = map[string]map[string]IndexDefinition{}
					}
					for ddoc, indexes := range db.Index {
						copied := make(map[string]IndexDefinition, len(indexes))
						for index, def := range indexes {
							copied[index] = def.clone()
						}
						target.Index[contributor+"_"+ddoc] = copied
					}
				}
			}
		}
	}
	return merged
}

func (s DesignSpec) clone() DesignSpec {
	out := DesignSpec{Language: s.Language}
	if s.Views != nil {
		out.Views = make(map[string]ViewSpec, len(s.Views))
		for k, v := range s.Views {
			out.Views[k] = v
		}
	}
	return out
}

func (d IndexDefinition) clone() IndexDefinition {
	out := IndexDefinition{}
	if d.Fields != nil {
		out.Fields = append([]IndexField(nil), d.Fields...)
	}
	if d.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

var fragmentExtensions = map[string]bool{".yaml": true, ".yml": true, ".toml": true, ".json": true}

// LoadFragments reads one fragment per file. The contributor is the file
// name without its extension. Directories contribute every fragment file
// they directly contain. A view map or reduce that names an existing .js
// file next to the fragment is replaced by the file's content.
func LoadFragments(paths ...string) (Fragments, error) {
	fragments := Fragments{}
	for _, path := range paths {
		files, err := fragmentFiles(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			contributor := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			if _, ok := fragments[contributor]; ok {
				return nil, invalidArgument("contributor %q declared twice", contributor)
			}
			tree, err := LoadFragment(file)
			if err != nil {
				return nil, err
			}
			fragments[contributor] = tree
		}
	}
	return fragments, nil
}

func fragmentFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !fragmentExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	return files, nil
}

// LoadFragment reads a single schema tree from a YAML, TOML or JSON file.
func LoadFragment(path string) (SchemaTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree, err := DecodeFragment(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := tree.resolveSources(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

// DecodeFragment decodes a schema tree in the format named by ext.
func DecodeFragment(data []byte, ext string) (SchemaTree, error) {
	var generic map[string]interface{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("%s: %w", err, ErrValidation)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &generic); err != nil {
			return nil, fmt.Errorf("%s: %w", err, ErrValidation)
		}
	case ".json":
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("%s: %w", err, ErrValidation)
		}
	default:
		return nil, invalidArgument("unsupported fragment format %q", ext)
	}

	encoded, err := JSONMarshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrValidation)
	}
	tree := SchemaTree{}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrValidation)
	}
	return tree, nil
}

func (t SchemaTree) resolveSources(dir string) error {
	for _, databases := range t {
		for _, db := range databases {
			if db == nil {
				continue
			}
			for design, spec := range db.Designs {
				for name, view := range spec.Views {
					var err error
					if view.Map, err = readSource(dir, view.Map); err != nil {
						return err
					}
					if view.Reduce, err = readSource(dir, view.Reduce); err != nil {
						return err
					}
					spec.Views[name] = view
				}
				db.Designs[design] = spec
			}
		}
	}
	return nil
}

func readSource(dir, value string) (string, error) {
	if !strings.HasSuffix(value, ".js") || strings.ContainsAny(value, "{(\n") {
		return value, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, value))
	if os.IsNotExist(err) {
		return value, nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Encode writes the tree in the format named by ext.
func (t SchemaTree) Encode(ext string) ([]byte, error) {
	encoded, err := JSONMarshal(t)
	if err != nil {
		return nil, err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return nil, err
	}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml", "yaml", "yml":
		return yaml.Marshal(generic)
	case ".toml", "toml":
		buffer := &bytes.Buffer{}
		err := toml.NewEncoder(buffer).Encode(dropNulls(generic))
		return buffer.Bytes(), err
	case ".json", "json":
		return json.MarshalIndent(generic, "", "  ")
	default:
		return nil, invalidArgument("unsupported fragment format %q", ext)
	}
}

// dropNulls removes null values, which TOML cannot express.
func dropNulls(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch value := v.(type) {
		case nil:
		case map[string]interface{}:
			out[k] = dropNulls(value)
		default:
			out[k] = v
		}
	}
	return out
}
