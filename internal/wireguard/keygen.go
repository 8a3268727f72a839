package wireguard

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// GenerateNativeKeypair creates a WireGuard keypair in-process, the same way `wg genkey | wg pubkey` does.
func GenerateNativeKeypair() (Keypair, error) {
	var priv [curve25519.ScalarSize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return Keypair{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	clamp(&priv)

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	return Keypair{
		PrivateKey: base64.StdEncoding.EncodeToString(priv[:]),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
	}, nil
}

// PublicKeyFor derives the public key of a base64 private key.
func PublicKeyFor(privateKey string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return "", fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != curve25519.ScalarSize {
		return "", fmt.Errorf("private key must be %d bytes, got %d", curve25519.ScalarSize, len(raw))
	}
	pub, err := curve25519.X25519(raw, curve25519.Basepoint)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

func clamp(k *[curve25519.ScalarSize]byte) {
	k[0] &= 248
	k[31] = (k[31] & 127) | 64
}
