// Package signing computes the keyed hashes the X-Sense cloud expects: the client-secret
// proof answered during the identity handshake and the legacy anti-tamper MAC attached to
// cloud API payloads.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	secretHeaderSize  = 4
	secretTrailerSize = 1
)

// ErrSecretUnavailable is returned when a signature is requested before the client secret is known.
var ErrSecretUnavailable = errors.New("client secret not available")

// FormatError reports malformed secret material or payload values.
type FormatError struct {
	What string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s: %v", e.What, e.Err)
	}
	return "malformed " + e.What
}

func (e *FormatError) Unwrap() error { return e.Err }

// DecodeSharedSecret reverses the base64 transport encoding of the client secret and strips
// the fixed header and trailer around the raw key.
func DecodeSharedSecret(encoded string) ([]byte, error) {
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &FormatError{What: "client secret", Err: err}
	}
	if len(value) < secretHeaderSize+secretTrailerSize {
		return nil, &FormatError{
			What: "client secret",
			Err:  fmt.Errorf("decoded length %d is shorter than header and trailer", len(value)),
		}
	}
	return value[secretHeaderSize : len(value)-secretTrailerSize], nil
}

// EncodeSharedSecret wraps a raw secret with the given header and trailer and base64-encodes it.
// It is the inverse of DecodeSharedSecret.
func EncodeSharedSecret(secret []byte, header [secretHeaderSize]byte, trailer byte) string {
	buf := make([]byte, 0, secretHeaderSize+len(secret)+secretTrailerSize)
	buf = append(buf, header[:]...)
	buf = append(buf, secret...)
	buf = append(buf, trailer)
	return base64.StdEncoding.EncodeToString(buf)
}

// ChallengeSignature is the SECRET_HASH proof: base64(HMAC-SHA256(secret, username+clientID)).
func ChallengeSignature(username, clientID string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// RequestMAC concatenates the payload values in the payload's own key order and returns
// hex(MD5(concatenation || secret)). Nil values are skipped, string slices are splatted and
// any other value contributes its JSON text. Nested objects must be ordered maps for their
// keys to keep insertion order; plain Go maps are rendered with sorted keys.
func RequestMAC(fields *orderedmap.OrderedMap[string, any], secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrSecretUnavailable
	}

	var concatenated []byte
	if fields != nil {
		for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
			text, err := fieldText(pair.Value)
			if err != nil {
				return "", &FormatError{What: "payload field " + pair.Key, Err: err}
			}
			concatenated = append(concatenated, text...)
		}
	}

	sum := md5.New()
	sum.Write(concatenated)
	sum.Write(secret)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func fieldText(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []string:
		if len(v) == 0 {
			return "[]", nil
		}
		var out string
		for _, s := range v {
			out += s
		}
		return out, nil
	case []any:
		if len(v) > 0 {
			if _, ok := v[0].(string); ok {
				var out string
				for _, item := range v {
					text, err := elementText(item)
					if err != nil {
						return "", err
					}
					out += text
				}
				return out, nil
			}
		}
	}
	return jsonText(value)
}

func elementText(item any) (string, error) {
	switch v := item.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	}
	return jsonText(item)
}

// jsonText renders value the way the vendor app stringifies it: no HTML escaping, and
// objects in insertion order when they are passed as ordered maps.
func jsonText(value any) (string, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, value); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeJSON(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case *orderedmap.OrderedMap[string, any]:
		if v == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for pair := v.Oldest(); pair != nil; pair = pair.Next() {
			if pair != v.Oldest() {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, pair.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeJSON(buf, pair.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	}

	var encoded bytes.Buffer
	encoder := json.NewEncoder(&encoded)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(encoded.Bytes(), []byte("\n")))
	return nil
}
