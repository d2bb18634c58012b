package crypto

import (
	"crypto/ecdsa"

	"github.com/zhigui-projects/hotstuff-consensus/api"
)

var (
	_ api.Signer   = (*ECDSASigner)(nil)
	_ api.Verifier = (*ECDSAVerifier)(nil)
)

type ECDSASigner struct {
	Pri *ecdsa.PrivateKey
}

func (s *ECDSASigner) Sign(digest []byte) ([]byte, error) {
	return Sign(s.Pri, digest)
}

type ECDSAVerifier struct {
	Pub *ecdsa.PublicKey
}

func (v *ECDSAVerifier) Verify(signature, digest []byte) (bool, error) {
	return Verify(v.Pub, signature, digest)
}
