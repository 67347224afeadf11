package oauth

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
)

// KeyMaterial holds the process-wide signing key. It is constructed once at
// startup, injected into the token issuer, and never mutated.
type KeyMaterial struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	kid        string
}

// ParseKeyMaterial parses an RSA private key in PKCS#1 or PKCS#8 PEM form.
// Escaped newlines are tolerated so the PEM can travel through env vars.
func ParseKeyMaterial(pemValue string) (*KeyMaterial, error) {
	pemValue = strings.ReplaceAll(pemValue, `\n`, "\n")

	block, _ := pem.Decode([]byte(pemValue))
	if block == nil {
		return nil, fmt.Errorf("%w: invalid private key PEM", ErrSigningFailure)
	}

	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = parsed
	} else if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: private key is not RSA", ErrSigningFailure)
		}
		key = rsaKey
	} else {
		return nil, fmt.Errorf("%w: unable to parse RSA private key", ErrSigningFailure)
	}

	return NewKeyMaterial(key)
}

// NewKeyMaterial wraps an RSA private key and derives its key id from the
// SHA-256 of the DER-encoded public key.
func NewKeyMaterial(key *rsa.PrivateKey) (*KeyMaterial, error) {
	pub := &key.PublicKey
	derBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal public key: %v", ErrSigningFailure, err)
	}
	sum := sha256.Sum256(derBytes)

	return &KeyMaterial{
		privateKey: key,
		publicKey:  pub,
		kid:        base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

func (k *KeyMaterial) PrivateKey() *rsa.PrivateKey { return k.privateKey }

func (k *KeyMaterial) PublicKey() *rsa.PublicKey { return k.publicKey }

func (k *KeyMaterial) KID() string { return k.kid }

// JWK is a single JSON Web Key as served by the jwks endpoint.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the key set document served at the jwks endpoint.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the public half of the signing key as a key set.
func (k *KeyMaterial) JWKS() JWKS {
	n := base64.RawURLEncoding.EncodeToString(k.publicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.publicKey.E)).Bytes())
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Kid: k.kid,
		Alg: "RS256",
		N:   n,
		E:   e,
	}}}
}
