package xtable

import (
	"io"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Fragment is one part of a schema: some tables and the setup that creates
// them. Fragments passed to WithFragments are applied in order, so their
// setup files and scripts run in that order too.
type Fragment interface {
	Apply(db *Database) error
}

// FragmentFunc adapts a function to a Fragment.
type FragmentFunc func(db *Database) error

// Apply calls f(db).
func (f FragmentFunc) Apply(db *Database) error { return f(db) }

// FragmentSpec is a Fragment described as data, usually loaded with
// LoadFragment or LoadFragmentJSON:
//
//	name: people
//	files: [schema/person.sql]
//	scripts:
//	  - CREATE INDEX person_name ON person(name)
//	tables:
//	  - name: person
//	    columns: [ID, name, age]
//	    identity: [ID]
type FragmentSpec struct {
	Name    string      `yaml:"name" json:"name"`
	Files   []string    `yaml:"files" json:"files"`
	Scripts []string    `yaml:"scripts" json:"scripts"`
	Tables  []TableSpec `yaml:"tables" json:"tables"`
}

// TableSpec declares one table of a FragmentSpec.
type TableSpec struct {
	Name     string            `yaml:"name" json:"name"`
	Columns  []string          `yaml:"columns" json:"columns"`
	Identity []string          `yaml:"identity" json:"identity"`
	Alias    string            `yaml:"alias" json:"alias"`
	FieldMap map[string]string `yaml:"field_map" json:"field_map"`
}

// Apply adds the files, then the scripts, then the tables of f to db.
func (f FragmentSpec) Apply(db *Database) error {
	for _, t := range f.Tables {
		if t.Name == "" {
			return schemaErr("", "fragment %q declares a table without a name", f.Name)
		}
	}
	for _, p := range f.Files {
		db.AddFile(p)
	}
	for _, s := range f.Scripts {
		db.AddScript(s)
	}
	for _, t := range f.Tables {
		opts := []TableOption{Identity(t.Identity...), FieldMap(t.FieldMap)}
		if t.Alias != "" {
			opts = append(opts, Alias(t.Alias))
		}
		db.AddTable(t.Name, t.Columns, opts...)
	}
	return nil
}

// LoadFragment decodes a YAML FragmentSpec. Unknown keys are errors.
func LoadFragment(r io.Reader) (FragmentSpec, error) {
	var f FragmentSpec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return FragmentSpec{}, schemaErr("", "decode fragment: %v", err)
	}
	return f, nil
}

// LoadFragmentJSON decodes a JSON FragmentSpec. Unknown keys are errors.
func LoadFragmentJSON(r io.Reader) (FragmentSpec, error) {
	var f FragmentSpec
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return FragmentSpec{}, schemaErr("", "decode fragment: %v", err)
	}
	return f, nil
}
