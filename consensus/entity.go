/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consensus

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/common/crypto"
	"github.com/zhigui-projects/hotstuff-consensus/common/db/memorydb"
	"github.com/zhigui-projects/hotstuff-consensus/common/log"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

var logger = log.GetLogger("module", "consensus")

// ReplicaInfo holds information about a replica
type ReplicaInfo struct {
	Verifier api.Verifier
}

// ReplicaConf is the static view of the replica set used to authenticate
// messages. Verified signatures are remembered in an LRU cache so that a
// certificate carried by many messages is checked only once.
type ReplicaConf struct {
	Validators *types.ValidatorSet
	Replicas   map[types.ReplicaID]*ReplicaInfo
	Aggregator api.Aggregator
	verified   api.Database
}

// NewReplicaConf parses the validators' public keys. pool, when not nil, is
// used to verify aggregate signatures in parallel.
func NewReplicaConf(validators *types.ValidatorSet, pool *workerpool.WorkerPool, cacheSize int) (*ReplicaConf, error) {
	rc := &ReplicaConf{
		Validators: validators,
		Replicas:   make(map[types.ReplicaID]*ReplicaInfo, validators.Size()),
	}
	verifiers := make(map[types.ReplicaID]api.Verifier, validators.Size())
	for _, v := range validators.Validators() {
		pub, err := crypto.ParsePublicKey(v.PublicKey)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid public key of replica %d", v.ID)
		}
		verifier := &crypto.ECDSAVerifier{Pub: pub}
		verifiers[v.ID] = verifier
		rc.Replicas[v.ID] = &ReplicaInfo{Verifier: verifier}
	}
	rc.Aggregator = crypto.NewMultiSig(verifiers, pool)
	if cacheSize > 0 {
		rc.verified = memorydb.NewLRUCache(cacheSize)
	}
	return rc, nil
}

// VerifyQuorumCert checks that qc is signed by a quorum of the replica set.
// The genesis QC is accepted without signatures.
func (rc *ReplicaConf) VerifyQuorumCert(qc *types.QuorumCert) error {
	if qc == nil {
		return errors.Wrap(ErrMalformedMessage, "nil quorum cert")
	}
	if qc.View == 0 {
		if qc.IsGenesis() {
			return nil
		}
		return errors.Wrap(ErrMalformedMessage, "quorum cert at view 0 is not the genesis QC")
	}
	if err := rc.checkSigners(qc.Signers); err != nil {
		return err
	}
	key := cacheKey('q', 0, qc.AggSig, signersBytes(qc.Signers), types.VoteDigest(qc.View, qc.BlockHash))
	if rc.seen(key) {
		return nil
	}
	ok, err := rc.Aggregator.VerifyAggregate(qc.Signers, [][]byte{types.VoteDigest(qc.View, qc.BlockHash)}, qc.AggSig)
	if err != nil || !ok {
		logger.Warning("verify quorum cert signature failed.", "view", qc.View, "error", err)
		return errors.Wrapf(ErrInvalidSignature, "quorum cert at view %d", qc.View)
	}
	rc.remember(key)
	return nil
}

// VerifyTimeoutCert checks the aggregate over the signers' timeout digests
// and the embedded high QC.
func (rc *ReplicaConf) VerifyTimeoutCert(tc *types.TimeoutCert) error {
	if tc == nil || tc.HighQC == nil {
		return errors.Wrap(ErrMalformedMessage, "timeout cert without high QC")
	}
	if len(tc.HighQCViews) != len(tc.Signers) {
		return errors.Wrapf(ErrMalformedMessage, "timeout cert has %d high QC views for %d signers",
			len(tc.HighQCViews), len(tc.Signers))
	}
	var highest types.View
	for _, v := range tc.HighQCViews {
		if v >= tc.View {
			return errors.Wrapf(ErrMalformedMessage, "high QC view %d not below timeout view %d", v, tc.View)
		}
		if v > highest {
			highest = v
		}
	}
	if tc.HighQC.View != highest {
		return errors.Wrapf(ErrMalformedMessage, "timeout cert high QC view %d, signers report %d", tc.HighQC.View, highest)
	}
	if err := rc.checkSigners(tc.Signers); err != nil {
		return err
	}
	if err := rc.VerifyQuorumCert(tc.HighQC); err != nil {
		return err
	}

	digests := make([][]byte, len(tc.Signers))
	for i := range tc.Signers {
		digests[i] = types.TimeoutDigest(tc.View, tc.HighQCViews[i])
	}
	key := cacheKey('t', 0, tc.AggSig, append([][]byte{signersBytes(tc.Signers)}, digests...)...)
	if rc.seen(key) {
		return nil
	}
	ok, err := rc.Aggregator.VerifyAggregate(tc.Signers, digests, tc.AggSig)
	if err != nil || !ok {
		logger.Warning("verify timeout cert signature failed.", "view", tc.View, "error", err)
		return errors.Wrapf(ErrInvalidSignature, "timeout cert at view %d", tc.View)
	}
	rc.remember(key)
	return nil
}

// VerifyVote will verify a vote from public keys stored in ReplicaConf
func (rc *ReplicaConf) VerifyVote(vote *types.Vote) error {
	if vote == nil {
		return errors.Wrap(ErrMalformedMessage, "nil vote")
	}
	return rc.verifyOne(vote.Voter, vote.Signature, types.VoteDigest(vote.View, vote.BlockHash))
}

func (rc *ReplicaConf) VerifyNewView(nv *types.NewView) error {
	if nv == nil || nv.HighQC == nil {
		return errors.Wrap(ErrMalformedMessage, "new view without high QC")
	}
	if nv.HighQC.View >= nv.View {
		return errors.Wrapf(ErrMalformedMessage, "high QC view %d not below new view %d", nv.HighQC.View, nv.View)
	}
	if err := rc.verifyOne(nv.Sender, nv.Signature, types.TimeoutDigest(nv.View, nv.HighQC.View)); err != nil {
		return err
	}
	return rc.VerifyQuorumCert(nv.HighQC)
}

func (rc *ReplicaConf) VerifyProposal(p *types.Proposal) error {
	if p == nil || p.Block == nil {
		return errors.Wrap(ErrMalformedMessage, "proposal without block")
	}
	b := p.Block
	if b.View == 0 || b.Justify == nil {
		return errors.Wrap(ErrMalformedMessage, "proposal block without justify")
	}
	if b.Justify.BlockHash != b.ParentHash || b.Justify.View >= b.View {
		return errors.Wrapf(ErrMalformedMessage, "block %s justify does not certify its parent", b.Hash().Short())
	}
	if leader := rc.Validators.Leader(b.View); leader != b.Proposer {
		return errors.Wrapf(ErrMalformedMessage, "replica %d is not the leader of view %d", b.Proposer, b.View)
	}
	if err := rc.verifyOne(b.Proposer, p.Signature, types.ProposalDigest(b.Hash())); err != nil {
		return err
	}
	if err := rc.VerifyQuorumCert(b.Justify); err != nil {
		return err
	}
	if p.LastViewTC != nil {
		if p.LastViewTC.View+1 != b.View {
			return errors.Wrapf(ErrMalformedMessage, "timeout cert for view %d attached to view %d", p.LastViewTC.View, b.View)
		}
		return rc.VerifyTimeoutCert(p.LastViewTC)
	}
	return nil
}

// VerifyMessage authenticates every signature carried by msg.
func (rc *ReplicaConf) VerifyMessage(msg *types.Message) error {
	switch msg.Type() {
	case types.MsgPropose:
		return rc.VerifyProposal(msg.Proposal)
	case types.MsgVote:
		return rc.VerifyVote(msg.Vote)
	case types.MsgNewView:
		return rc.VerifyNewView(msg.NewView)
	default:
		return errors.Wrap(ErrMalformedMessage, "message must carry exactly one payload")
	}
}

func (rc *ReplicaConf) verifyOne(id types.ReplicaID, sig, digest []byte) error {
	info, ok := rc.Replicas[id]
	if !ok {
		logger.Warning("got replica info failed.", "replicaId", id)
		return errors.Wrapf(ErrUnknownReplica, "replica %d", id)
	}
	key := cacheKey('s', id, sig, digest)
	if rc.seen(key) {
		return nil
	}
	if ok, err := info.Verifier.Verify(sig, digest); err != nil || !ok {
		logger.Debug("verify signature failed.", "replicaId", id, "error", err)
		return errors.Wrapf(ErrInvalidSignature, "replica %d", id)
	}
	rc.remember(key)
	return nil
}

func (rc *ReplicaConf) checkSigners(signers []types.ReplicaID) error {
	for i := 1; i < len(signers); i++ {
		if signers[i-1] >= signers[i] {
			return errors.Wrap(ErrMalformedMessage, "signers must be sorted and distinct")
		}
	}
	w, err := rc.Validators.WeightOf(signers)
	if err != nil {
		return errors.Wrap(ErrUnknownReplica, err.Error())
	}
	if w < rc.Validators.QuorumThreshold() {
		return errors.Wrapf(ErrInvalidSignature, "signers weight %d below quorum %d", w, rc.Validators.QuorumThreshold())
	}
	return nil
}

func (rc *ReplicaConf) seen(key types.Hash) bool {
	if rc.verified == nil {
		return false
	}
	_, err := rc.verified.Get(key)
	return err == nil
}

func (rc *ReplicaConf) remember(key types.Hash) {
	if rc.verified != nil {
		_ = rc.verified.Put(key, struct{}{})
	}
}

func cacheKey(kind byte, signer types.ReplicaID, sig []byte, digests ...[]byte) types.Hash {
	h := sha256.New()
	h.Write([]byte{kind})
	var l [8]byte
	binary.BigEndian.PutUint64(l[:], uint64(signer))
	h.Write(l[:])
	binary.BigEndian.PutUint64(l[:], uint64(len(sig)))
	h.Write(l[:])
	h.Write(sig)
	for _, d := range digests {
		h.Write(d)
	}
	return types.BytesToHash(h.Sum(nil))
}

func signersBytes(signers []types.ReplicaID) []byte {
	buf := make([]byte, 8*len(signers))
	for i, id := range signers {
		binary.BigEndian.PutUint64(buf[8*i:], uint64(id))
	}
	return buf
}
