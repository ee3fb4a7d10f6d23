package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/rowmerge/internal/ir"
)

// marshalFields converts Fields to canonical JSON TEXT for storage.
// nil Fields are stored as NULL so Delete and control operations round-trip.
func marshalFields(f ir.Fields) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal fields: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalFields parses canonical JSON TEXT. NULL yields nil Fields.
func unmarshalFields(data sql.NullString) (ir.Fields, error) {
	if !data.Valid {
		return nil, nil
	}
	f, err := ir.UnmarshalFields(data.String)
	if err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return f, nil
}

// marshalGrants stores an operation's grant list verbatim as JSON.
//
// The row permission column uses the acl string form, but an operation's
// grants must survive storage exactly as authored: the fold encodes them
// itself, and the stored form must not depend on acl normalization.
func marshalGrants(grants []ir.Permission) (sql.NullString, error) {
	if len(grants) == 0 {
		return sql.NullString{}, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(grants); err != nil {
		return sql.NullString{}, fmt.Errorf("marshal grants: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return sql.NullString{String: strings.TrimSpace(buf.String()), Valid: true}, nil
}

func unmarshalGrants(data sql.NullString) ([]ir.Permission, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var grants []ir.Permission
	if err := json.Unmarshal([]byte(data.String), &grants); err != nil {
		return nil, fmt.Errorf("unmarshal grants: %w", err)
	}
	return grants, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
