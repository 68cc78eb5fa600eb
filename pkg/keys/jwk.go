// Copyright 2025 Swixixle
//
// JWK and PEM encoding for tenant signing keys
//
// Public keys travel as EC P-256 JWKs with unpadded base64url coordinates
// and kid equal to the key id. Private keys are stored PKCS#8 PEM inside the
// key registry only.

package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"

	"crypto/x509"
)

// JWK is an EC P-256 public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Use string `json:"use"`
	Kid string `json:"kid"`
}

// PublicJWK builds the JWK for an ECDSA P-256 public key.
func PublicJWK(pub *ecdsa.PublicKey, keyID string) (*JWK, error) {
	if pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("keys: only P-256 keys are supported")
	}
	return &JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, 32))),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, 32))),
		Use: "sig",
		Kid: keyID,
	}, nil
}

// PublicKey reconstructs the ECDSA public key from the JWK.
func (j *JWK) PublicKey() (*ecdsa.PublicKey, error) {
	if j.Kty != "EC" || j.Crv != "P-256" {
		return nil, fmt.Errorf("keys: only EC P-256 keys are supported")
	}
	xb, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil {
		return nil, fmt.Errorf("keys: decode x: %w", err)
	}
	yb, err := base64.RawURLEncoding.DecodeString(j.Y)
	if err != nil {
		return nil, fmt.Errorf("keys: decode y: %w", err)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xb),
		Y:     new(big.Int).SetBytes(yb),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("keys: point not on curve")
	}
	return pub, nil
}

// ParseJWK parses the stored public_jwk_json text.
func ParseJWK(data string) (*JWK, error) {
	var jwk JWK
	if err := json.Unmarshal([]byte(data), &jwk); err != nil {
		return nil, fmt.Errorf("keys: parse jwk: %w", err)
	}
	return &jwk, nil
}

// Marshal renders the JWK as its stored JSON text.
func (j *JWK) Marshal() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("keys: marshal jwk: %w", err)
	}
	return string(data), nil
}

// PublicKeyPEM renders the JWK's public key as a PEM block for evidence
// bundles and offline verification.
func (j *JWK) PublicKeyPEM() (string, error) {
	pub, err := j.PublicKey()
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("keys: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// encodePrivateKeyPEM renders a private key as PKCS#8 PEM.
func encodePrivateKeyPEM(priv *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("keys: marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// decodePrivateKeyPEM loads a PKCS#8 PEM private key.
func decodePrivateKeyPEM(pemText string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("keys: no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key: %w", err)
	}
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keys: private key is not ECDSA")
	}
	return priv, nil
}
