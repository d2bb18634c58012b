/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

var _ api.Aggregator = (*MultiSig)(nil)

// MultiSig aggregates signatures by concatenation: the aggregate is the CBOR
// list of the individual signatures ordered by signer. Verification checks
// every signature, in parallel when a worker pool is supplied.
type MultiSig struct {
	verifiers map[types.ReplicaID]api.Verifier
	pool      *workerpool.WorkerPool
}

// NewMultiSig creates a MultiSig over the given verifiers. pool may be nil.
func NewMultiSig(verifiers map[types.ReplicaID]api.Verifier, pool *workerpool.WorkerPool) *MultiSig {
	return &MultiSig{verifiers: verifiers, pool: pool}
}

func (m *MultiSig) Combine(parts []types.PartialSig) ([]byte, error) {
	if len(parts) == 0 {
		return nil, errors.New("no signatures to combine")
	}
	sorted := make([]types.PartialSig, len(parts))
	copy(sorted, parts)
	types.SortPartialSigs(sorted)

	sigs := make([][]byte, len(sorted))
	for i, p := range sorted {
		if i > 0 && sorted[i-1].Signer == p.Signer {
			return nil, errors.Errorf("duplicate signature from replica %d", p.Signer)
		}
		sigs[i] = p.Signature
	}
	return cbor.Marshal(sigs)
}

func (m *MultiSig) VerifyAggregate(signers []types.ReplicaID, digests [][]byte, agg []byte) (bool, error) {
	var sigs [][]byte
	if err := cbor.Unmarshal(agg, &sigs); err != nil {
		return false, errors.Wrap(err, "malformed aggregate signature")
	}
	if len(sigs) != len(signers) {
		return false, errors.Errorf("aggregate carries %d signatures for %d signers", len(sigs), len(signers))
	}
	if len(digests) != 1 && len(digests) != len(signers) {
		return false, errors.Errorf("got %d digests for %d signers", len(digests), len(signers))
	}
	for i := 1; i < len(signers); i++ {
		if signers[i-1] >= signers[i] {
			return false, errors.New("signers must be strictly ascending")
		}
	}

	verifiers := make([]api.Verifier, len(signers))
	for i, id := range signers {
		v, ok := m.verifiers[id]
		if !ok {
			return false, errors.Errorf("unknown signer %d", id)
		}
		verifiers[i] = v
	}

	digestOf := func(i int) []byte {
		if len(digests) == 1 {
			return digests[0]
		}
		return digests[i]
	}

	if m.pool == nil {
		for i := range signers {
			if ok, err := verifiers[i].Verify(sigs[i], digestOf(i)); err != nil || !ok {
				return false, nil
			}
		}
		return true, nil
	}

	var wg sync.WaitGroup
	failed := atomic.NewBool(false)
	for i := range signers {
		i := i
		wg.Add(1)
		m.pool.Submit(func() {
			defer wg.Done()
			if failed.Load() {
				return
			}
			if ok, err := verifiers[i].Verify(sigs[i], digestOf(i)); err != nil || !ok {
				failed.Store(true)
			}
		})
	}
	wg.Wait()
	return !failed.Load(), nil
}
