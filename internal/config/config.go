// Package config loads the node configuration from a CUE file.
//
// A config file is plain CUE data checked against the #Config schema
// below. Defaults come from the schema, so a minimal file only names the
// application and the identity:
//
//	app:      "todo"
//	identity: "alice"
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource string

// Config is a node's configuration.
type Config struct {
	// App namespaces log entries: row operations are typed "<app>-<table>".
	App string `json:"app"`
	// Identity is the local writer; it owns the keys it allocates.
	Identity string `json:"identity"`
	// Database is the SQLite file path.
	Database string `json:"database"`
	// ReservationWindow is the number of key sequences reserved per write.
	ReservationWindow int `json:"reservation_window"`
	// RowCacheSize bounds the persisted-row LRU cache; 0 disables it.
	RowCacheSize int `json:"row_cache_size"`
	// ReplayWorkers bounds concurrent merges during replay; 0 means one
	// per CPU.
	ReplayWorkers int `json:"replay_workers"`
	// Tables optionally restricts which tables the node accepts writes for.
	Tables []string `json:"tables"`
}

// Default returns the configuration the schema yields for an empty app and
// identity.
func Default() Config {
	return Config{
		Database:          "rowmerge.db",
		ReservationWindow: 100,
		RowCacheSize:      1024,
	}
}

// AllowsTable reports whether writes to table are accepted.
func (c Config) AllowsTable(table string) bool {
	if len(c.Tables) == 0 {
		return true
	}
	for _, t := range c.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// Load reads and validates the config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates src against the schema and decodes it. filename is used
// in error positions only.
func Parse(filename string, src []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	return cfg, nil
}

// Error is a configuration error with its source position.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	e := &Error{Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
