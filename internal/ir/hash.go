package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainOperation is the domain prefix for operation identity.
// Version suffix enables future algorithm migration.
const DomainOperation = "rowmerge/operation/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OperationID computes the content-addressed ID of an operation.
// ID and LogOffset are excluded: the same entry received twice over
// different replication paths must hash to the same ID.
func OperationID(op Operation) (string, error) {
	grants := make([]any, len(op.Grants))
	for i, g := range op.Grants {
		fields := make([]any, len(g.Fields))
		for j, f := range g.Fields {
			fields[j] = f
		}
		grants[i] = map[string]any{
			"identity": g.Identity,
			"fields":   fields,
		}
	}
	fields := op.Fields
	if fields == nil {
		fields = Fields{}
	}

	obj := map[string]any{
		"author":         op.Author,
		"sequence":       op.Sequence,
		"timestamp":      op.Timestamp,
		"type":           op.Type,
		"table":          op.Table,
		"key":            op.Key,
		"kind":           string(op.Kind),
		"transaction_id": op.TransactionID,
		"fields":         fields,
		"grants":         grants,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("OperationID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOperation, canonical), nil
}

// MustOperationID is like OperationID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustOperationID(op Operation) string {
	id, err := OperationID(op)
	if err != nil {
		panic(err)
	}
	return id
}

// WithID returns op with its ID filled in when missing.
func WithID(op Operation) (Operation, error) {
	if op.ID != "" {
		return op, nil
	}
	id, err := OperationID(op)
	if err != nil {
		return op, err
	}
	op.ID = id
	return op, nil
}
