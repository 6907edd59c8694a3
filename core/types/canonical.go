package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON renders v as canonical JSON: UTF-8, object keys sorted,
// numbers in their shortest form, no insignificant whitespace. The canonical
// form is the signing input for transaction payloads, so any two
// semantically equal documents must canonicalize identically.
func CanonicalJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("types: canonical marshal: %w", err)
	}
	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON re-encodes a JSON document into canonical form.
// encoding/json sorts map keys and emits shortest-form numbers, so a
// decode/encode round trip through interface{} normalizes the document.
func CanonicalizeJSON(raw []byte) (string, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("types: canonicalize: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("types: canonicalize: %w", err)
	}
	return string(out), nil
}
