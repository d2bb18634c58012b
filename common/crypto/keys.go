/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
)

// GenerateKey creates a new P-256 replica key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// ParsePrivateKey decodes a PEM encoded PKCS#8 or SEC 1 private key.
func ParsePrivateKey(raw []byte) (interface{}, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("failed decoding PEM private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed parsing private key")
	}
	return key, nil
}

// ParseECDSAPrivateKey is ParsePrivateKey restricted to ECDSA keys.
func ParseECDSAPrivateKey(raw []byte) (*ecdsa.PrivateKey, error) {
	key, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	pk, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("expected ECDSA private key, got %T", key)
	}
	return pk, nil
}

// ParsePublicKey decodes a PEM encoded PKIX ECDSA public key.
func ParsePublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("failed decoding PEM public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed parsing public key")
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("expected ECDSA public key, got %T", key)
	}
	return pub, nil
}

func MarshalPrivateKey(k *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func MarshalPublicKey(k *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
