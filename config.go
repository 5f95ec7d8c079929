package xtable

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the file form of the options of New.
//
//	path: ~/data/people.db
//	auto_commit: false
//	strict_mode: true
//	memory: true
//	setup_files: [schema.sql]
//	fragments:
//	  - name: people
//	    tables:
//	      - name: person
//	        columns: [ID, name, age]
//	        identity: [ID]
type Config struct {
	Path          string         `yaml:"path"`
	Driver        string         `yaml:"driver"`
	AutoCommit    *bool          `yaml:"auto_commit"`
	ExpandPath    *bool          `yaml:"expand_path"`
	StrictMode    bool           `yaml:"strict_mode"`
	Memory        bool           `yaml:"memory"` // serve the file through a MemorySource
	StmtCacheSize int            `yaml:"stmt_cache_size"`
	SetupFiles    []string       `yaml:"setup_files"`
	SetupScripts  []string       `yaml:"setup_scripts"`
	Fragments     []FragmentSpec `yaml:"fragments"`
}

// LoadConfig decodes a YAML Config. Unknown keys are errors.
func LoadConfig(r io.Reader) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("xtable: decode config: %w", err)
	}
	return c, nil
}

// LoadConfigFile reads a YAML Config from path.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("xtable: open config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// Options converts c into options for New. Setup files and scripts come
// before those of the fragments.
func (c Config) Options() []Option {
	var opts []Option
	if c.Driver != "" {
		opts = append(opts, WithDriver(c.Driver))
	}
	if c.AutoCommit != nil {
		opts = append(opts, WithAutoCommit(*c.AutoCommit))
	}
	if c.ExpandPath != nil {
		opts = append(opts, WithExpandPath(*c.ExpandPath))
	}
	if c.StrictMode {
		opts = append(opts, WithStrictMode(true))
	}
	if c.StmtCacheSize > 0 {
		opts = append(opts, WithStmtCacheSize(c.StmtCacheSize))
	}
	for _, f := range c.SetupFiles {
		opts = append(opts, WithSetupFile(f))
	}
	for _, s := range c.SetupScripts {
		opts = append(opts, WithSetupScript(s))
	}
	frags := make([]Fragment, len(c.Fragments))
	for i, f := range c.Fragments {
		frags[i] = f
	}
	if len(frags) > 0 {
		opts = append(opts, WithFragments(frags...))
	}
	return opts
}

// NewFromConfig is New with the options of c followed by opts.
func NewFromConfig(c Config, opts ...Option) (*Database, error) {
	all := c.Options()
	if c.Memory {
		expand := c.ExpandPath == nil || *c.ExpandPath
		all = append(all, WithSource(NewMemorySource(c.Path,
			SourceDriver(c.Driver),
			SourceExpandPath(expand),
		)))
	}
	return New(c.Path, append(all, opts...)...)
}
