package clients

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
)

const (
	KeySize        = 32
	EncodedKeySize = 44
)

var (
	ErrMalformedKey    = errors.New("malformed key")
	ErrInvalidIdentity = errors.New("invalid identity")
)

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)

// ValidateKey checks that s is a standard base64 encoding of exactly 32 bytes.
func ValidateKey(s string) error {
	if len(s) != EncodedKeySize {
		return fmt.Errorf("%w: expected %d characters, got %d", ErrMalformedKey, EncodedKeySize, len(s))
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if len(raw) != KeySize {
		return fmt.Errorf("%w: decoded to %d bytes", ErrMalformedKey, len(raw))
	}
	return nil
}

// ValidateIdentity accepts ASCII letters and digits only. It doubles as the artifact file name.
func ValidateIdentity(identity string) error {
	if !identityPattern.MatchString(identity) {
		return fmt.Errorf("%w: %q must be 1-64 letters or digits", ErrInvalidIdentity, identity)
	}
	return nil
}
