// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 content digests. Every digest in the system
// flows through this package; any divergence here breaks cross-system
// verification.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// DigestPrefix is the algorithm prefix used for portable digest strings.
const DigestPrefix = "sha256:"

// Marshal returns the RFC 8785 canonical JSON encoding of v.
//
// v must be JSON-shaped: nil, bool, integers, finite floats, strings,
// slices and string-keyed maps (or structs with json tags that reduce to
// those). NaN and ±Inf are rejected by the pre-marshal pass. Map keys are
// sorted by Unicode code point; non-ASCII characters are written as UTF-8
// bytes, not \u escapes; no trailing newline.
func Marshal(v any) ([]byte, error) {
	// Standard marshal resolves struct tags and rejects NaN/Inf, but it
	// HTML-escapes and preserves field order. The JCS transform then
	// re-serializes with sorted keys and RFC 8785 string/number rules.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical: marshal failed: %w", err)
	}

	out, err := jcs.Transform(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ContentDigest returns the bare 64-hex SHA-256 digest of the canonical
// encoding of v.
func ContentDigest(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// PrefixedDigest returns the content digest of v in "sha256:<64hex>" form.
func PrefixedDigest(v any) (string, error) {
	d, err := ContentDigest(v)
	if err != nil {
		return "", err
	}
	return DigestPrefix + d, nil
}

// String returns the canonical encoding as a string.
func String(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
