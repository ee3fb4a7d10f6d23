package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// KeySeparator splits the row sequence from the owner identity in a key.
const KeySeparator = "_"

// FormatKey builds "<rowSequence>_<ownerIdentity>".
func FormatKey(seq int64, owner string) string {
	return strconv.FormatInt(seq, 10) + KeySeparator + owner
}

// ParseKey splits a key into its row sequence and owner identity.
// The owner may itself contain the separator; only the first one splits.
func ParseKey(key string) (seq int64, owner string, err error) {
	head, tail, ok := strings.Cut(key, KeySeparator)
	if !ok || head == "" || tail == "" {
		return 0, "", fmt.Errorf("malformed key %q: want <sequence>_<owner>", key)
	}
	seq, err = strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed key %q: sequence: %w", key, err)
	}
	return seq, tail, nil
}

// KeyOwner returns the owner identity embedded in a key, or "" when the key
// is malformed. A malformed key has no owner, so no Insert can ever match it.
func KeyOwner(key string) string {
	_, owner, err := ParseKey(key)
	if err != nil {
		return ""
	}
	return owner
}
