/*
Package sign implements the canonical encoding of records together with the
shared-secret authenticator and the content hash built on top of it.

A record is a flat mapping from field names to JSON-encodable values. Its
canonical form is compact JSON with keys in lexical order, so two records with
the same logical content always produce the same bytes.
*/
package sign

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"

	"go.dedis.ch/kyber/v3/util/random"
)

// ErrInvalidUTF8 is returned for a record holding a string that is not valid UTF-8.
// encoding/json would replace the bad bytes with U+FFFD, mapping distinct strings
// onto the same canonical form.
var ErrInvalidUTF8 = errors.New("string is not valid utf-8")

// Record is a set of named fields to be canonicalized.
type Record map[string]interface{}

// Canonicalize encodes the record deterministically.
// encoding/json sorts map keys, so insertion order never matters.
func Canonicalize(record Record) ([]byte, error) {
	for k, v := range record {
		if !utf8.ValidString(k) {
			return nil, fmt.Errorf("%w: key %q", ErrInvalidUTF8, k)
		}
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.String && !utf8.ValidString(rv.String()) {
			return nil, fmt.Errorf("%w: field %s", ErrInvalidUTF8, k)
		}
	}
	buf := bytes.Buffer{}
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sign returns the hex HMAC-SHA256 of the canonical form of record.
func Sign(record Record, key []byte) (string, error) {
	data, err := Canonicalize(record)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac(data, key)), nil
}

// Verify reports whether signature authenticates record under key.
// Any malformed input counts as a failed verification.
func Verify(record Record, signature string, key []byte) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != sha256.Size {
		return false
	}
	data, err := Canonicalize(record)
	if err != nil {
		return false
	}
	return hmac.Equal(sig, mac(data, key))
}

// ContentHash returns the hex SHA-256 digest of the canonical form of record.
func ContentHash(record Record) (string, error) {
	data, err := Canonicalize(record)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// GenSecret creates a fresh random shared secret of 256 bits, hex encoded.
func GenSecret() string {
	return hex.EncodeToString(random.Bits(256, true, random.New()))
}

func mac(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
