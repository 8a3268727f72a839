package lifecycle

import (
	"errors"

	"github.com/EternisAI/wg-provisioner/internal/pool"
)

var (
	ErrDuplicateIdentity      = errors.New("identity already provisioned")
	ErrPoolExhausted          = pool.ErrExhausted
	ErrKeyGenerationFailed    = errors.New("key generation failed")
	ErrKeyCollision           = errors.New("public key already in use")
	ErrPeerRegistrationFailed = errors.New("peer registration failed")
	ErrPeerVerificationFailed = errors.New("peer verification failed")
	ErrInterfaceUnavailable   = errors.New("interface peer table unavailable")
	ErrNotFound               = errors.New("client not found")
	ErrRegistryRead           = errors.New("registry read failed")
	ErrRegistryWrite          = errors.New("registry write failed")
)
