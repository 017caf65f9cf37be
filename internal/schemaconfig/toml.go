// Package schemaconfig loads a declared database schema from a TOML file,
// for callers who would rather check a schema into version control than
// build a schema.Schema literal in Go. It reads a store/index definition
// format and converts it into the canonical schema.Schema the rest of the
// module operates on.
package schemaconfig

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"nsprovider/internal/schema"
)

// tomlFile is the top-level TOML document shape.
type tomlFile struct {
	Database tomlDatabase `toml:"database"`
	Stores   []tomlStore  `toml:"stores"`
}

type tomlDatabase struct {
	Version           int  `toml:"version"`
	LastUsableVersion *int `toml:"last_usable_version"`
}

type tomlStore struct {
	Name           string      `toml:"name"`
	PrimaryKeyPath []string    `toml:"primary_key_path"`
	Indexes        []tomlIndex `toml:"indexes"`
}

type tomlIndex struct {
	Name               string   `toml:"name"`
	KeyPath            []string `toml:"key_path"`
	Unique             bool     `toml:"unique"`
	MultiEntry         bool     `toml:"multi_entry"`
	FullText           bool     `toml:"full_text"`
	IncludeDataInIndex bool     `toml:"include_data_in_index"`
}

// LoadFile opens path and parses it as a TOML schema document.
func LoadFile(path string) (schema.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("schemaconfig: open file %q: %w", path, err)
	}
	defer f.Close()

	return Load(f)
}

// Load reads TOML content from r and returns the corresponding
// schema.Schema, already validated.
func Load(r io.Reader) (schema.Schema, error) {
	var tf tomlFile
	if _, err := toml.NewDecoder(r).Decode(&tf); err != nil {
		return schema.Schema{}, fmt.Errorf("schemaconfig: decode error: %w", err)
	}

	s := schema.Schema{
		Version:           tf.Database.Version,
		LastUsableVersion: tf.Database.LastUsableVersion,
		Stores:            make([]schema.StoreSchema, 0, len(tf.Stores)),
	}

	for _, st := range tf.Stores {
		converted, err := convertStore(st)
		if err != nil {
			return schema.Schema{}, fmt.Errorf("schemaconfig: store %q: %w", st.Name, err)
		}
		s.Stores = append(s.Stores, converted)
	}

	if err := s.Validate(); err != nil {
		return schema.Schema{}, err
	}
	return s, nil
}

func convertStore(st tomlStore) (schema.StoreSchema, error) {
	kp, err := convertKeyPath(st.PrimaryKeyPath)
	if err != nil {
		return schema.StoreSchema{}, fmt.Errorf("primary_key_path: %w", err)
	}

	out := schema.StoreSchema{
		Name:           st.Name,
		PrimaryKeyPath: kp,
		Indexes:        make([]schema.IndexSchema, 0, len(st.Indexes)),
	}

	for _, idx := range st.Indexes {
		ikp, err := convertKeyPath(idx.KeyPath)
		if err != nil {
			return schema.StoreSchema{}, fmt.Errorf("index %q key_path: %w", idx.Name, err)
		}
		out.Indexes = append(out.Indexes, schema.IndexSchema{
			Name:               idx.Name,
			KeyPath:            ikp,
			Unique:             idx.Unique,
			MultiEntry:         idx.MultiEntry,
			FullText:           idx.FullText,
			IncludeDataInIndex: idx.IncludeDataInIndex,
		})
	}
	return out, nil
}

func convertKeyPath(paths []string) (schema.KeyPath, error) {
	switch len(paths) {
	case 0:
		return schema.KeyPath{}, fmt.Errorf("key path must have at least one component")
	case 1:
		return schema.Single(paths[0]), nil
	default:
		return schema.Compound(paths...), nil
	}
}
