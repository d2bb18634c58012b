package api

import "github.com/zhigui-projects/hotstuff-consensus/types"

type Verifier interface {
	Verify(signature, digest []byte) (bool, error)
}

type Signer interface {
	Sign(digest []byte) ([]byte, error)
}

// Aggregator combines partial signatures into a multi-signature and checks
// them against the validator set. digests holds either one digest signed by
// every signer or one digest per signer, in signer order.
type Aggregator interface {
	Combine(parts []types.PartialSig) ([]byte, error)
	VerifyAggregate(signers []types.ReplicaID, digests [][]byte, agg []byte) (bool, error)
}
