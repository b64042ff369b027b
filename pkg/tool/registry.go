package tool

import (
	"os"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

var errToolNotFound = goerr.New("tool not found")

// Registry manages available tool definitions
type Registry struct {
	tools map[string]*Definition
}

// New creates a new tool registry with the given definitions
func New(defs ...*Definition) (*Registry, error) {
	r := &Registry{
		tools: make(map[string]*Definition),
	}
	for _, d := range defs {
		if err := r.set(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) set(d *Definition) error {
	if d.Parallelism <= 0 {
		d.Parallelism = 4
	}
	if err := d.Validate(); err != nil {
		return err
	}
	r.tools[d.Name] = d
	return nil
}

// Get returns the definition of a tool
func (r *Registry) Get(name string) (*Definition, error) {
	d, ok := r.tools[name]
	if !ok {
		return nil, goerr.Wrap(errToolNotFound, "unknown tool", goerr.V("name", name))
	}
	return d, nil
}

// List returns all definitions sorted by name
func (r *Registry) List() []*Definition {
	defs := make([]*Definition, 0, len(r.tools))
	for _, d := range r.tools {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
	return defs
}

// fileConfig represents the YAML configuration of tools
type fileConfig struct {
	Tools []*Definition `yaml:"tools"`
}

// LoadFile reads tool definitions from a YAML file. A definition replaces
// the registered tool of the same name; new names are added.
func (r *Registry) LoadFile(filePath string) error {
	if filePath == "" {
		return nil
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return goerr.Wrap(err, "failed to read tool config file", goerr.V("file", filePath))
	}

	var config fileConfig
	if err := yaml.Unmarshal(content, &config); err != nil {
		return goerr.Wrap(err, "failed to parse YAML config", goerr.V("file", filePath))
	}

	for _, d := range config.Tools {
		if err := r.set(d); err != nil {
			return goerr.Wrap(err, "invalid tool definition", goerr.V("file", filePath))
		}
	}
	return nil
}
