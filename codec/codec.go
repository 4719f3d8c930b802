// Package codec encodes protocol documents carried in HTTP headers as base64
// of their UTF-8 JSON serialization.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ErrDecode matches every DecodeError.
var ErrDecode = errors.New("decode failed")

// DecodeError is returned for malformed base64 or invalid JSON.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is reports ErrDecode as a match.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Encode returns the base64 of the JSON serialization of v.
func Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode decodes s into v. Padding is optional.
func Decode(s string, v any) error {

	// Decode the base64 text
	raw, err := decodeBase64(strings.TrimSpace(s))
	if err != nil {
		return &DecodeError{Stage: "base64", Err: err}
	}

	// Unmarshal the JSON document
	if err := json.Unmarshal(raw, v); err != nil {
		return &DecodeError{Stage: "json", Err: err}
	}

	return nil
}

// DecodeAs decodes s into a new T.
func DecodeAs[T any](s string) (T, error) {
	var v T
	err := Decode(s, &v)
	return v, err
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty input")
	}
	if strings.HasSuffix(s, "=") || len(s)%4 == 0 {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
