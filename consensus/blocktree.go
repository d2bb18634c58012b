/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consensus

import (
	"github.com/pkg/errors"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

// BlockTree holds the last committed block and every known block extending
// it. Blocks are referenced by hash, parents are looked up through the map.
type BlockTree struct {
	root   *types.Block
	blocks map[types.Hash]*types.Block
}

func NewBlockTree(root *types.Block) *BlockTree {
	t := &BlockTree{
		root:   root,
		blocks: make(map[types.Hash]*types.Block),
	}
	t.blocks[root.Hash()] = root
	return t
}

// LoadBlockTree rebuilds the tree rooted at the committed block and fills in
// the chain from tip back to the root from the persister. Blocks that can no
// longer be found are skipped, they will be treated as missing.
func LoadBlockTree(persister api.Persister, committed types.Hash, tip types.Hash) (*BlockTree, error) {
	root := types.Genesis()
	if !committed.IsZero() && committed != root.Hash() {
		b, err := persister.GetBlock(committed)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, errors.Wrapf(ErrMissingBlock, "committed block %s not in store", committed.Short())
		}
		root = b
	}
	t := NewBlockTree(root)

	var chain []*types.Block
	for h := tip; !h.IsZero() && h != root.Hash(); {
		b, err := persister.GetBlock(h)
		if err != nil {
			return nil, err
		}
		if b == nil || b.Height <= root.Height {
			break
		}
		chain = append(chain, b)
		h = b.ParentHash
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if _, err := t.Add(chain[i]); err != nil {
			logger.Warning("drop persisted block", "hash", chain[i].Hash().Short(), "error", err)
			break
		}
	}
	return t, nil
}

func (t *BlockTree) Root() *types.Block {
	return t.root
}

func (t *BlockTree) Len() int {
	return len(t.blocks)
}

func (t *BlockTree) Get(hash types.Hash) (*types.Block, bool) {
	b, ok := t.blocks[hash]
	return b, ok
}

// Add inserts b under its parent. It returns false when b is already known.
func (t *BlockTree) Add(b *types.Block) (bool, error) {
	hash := b.Hash()
	if _, ok := t.blocks[hash]; ok {
		return false, nil
	}
	parent, ok := t.blocks[b.ParentHash]
	if !ok {
		return false, errors.Wrapf(ErrMissingBlock, "parent %s of block %s", b.ParentHash.Short(), hash.Short())
	}
	if b.Height != parent.Height+1 {
		return false, errors.Wrapf(ErrMalformedMessage, "block %s height %d does not follow parent height %d",
			hash.Short(), b.Height, parent.Height)
	}
	if b.View <= parent.View {
		return false, errors.Wrapf(ErrMalformedMessage, "block %s view %d not above parent view %d",
			hash.Short(), b.View, parent.View)
	}
	t.blocks[hash] = b
	return true, nil
}

// Extends reports whether b equals or descends from the block with the given hash.
func (t *BlockTree) Extends(b *types.Block, ancestor types.Hash) bool {
	anc, ok := t.blocks[ancestor]
	if !ok {
		return false
	}
	cur := b
	for cur.Height > anc.Height {
		if cur, ok = t.blocks[cur.ParentHash]; !ok {
			return false
		}
	}
	return cur.Hash() == ancestor
}

// PathFrom returns the blocks strictly after ancestor up to and including b,
// oldest first. ErrForkDetected is returned when b does not extend ancestor.
func (t *BlockTree) PathFrom(ancestor *types.Block, b *types.Block) ([]*types.Block, error) {
	want := ancestor.Hash()
	var path []*types.Block
	cur := b
	for cur.Height > ancestor.Height {
		path = append(path, cur)
		parent, ok := t.blocks[cur.ParentHash]
		if !ok {
			return nil, errors.Wrapf(ErrMissingBlock, "ancestor %s of block %s", cur.ParentHash.Short(), b.Hash().Short())
		}
		cur = parent
	}
	if cur.Hash() != want {
		return nil, errors.Wrapf(ErrForkDetected, "block %s does not extend committed block %s", b.Hash().Short(), want.Short())
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Prune makes root the new root and drops every block that does not extend
// it. It returns the hashes of the dropped blocks.
func (t *BlockTree) Prune(root *types.Block) []types.Hash {
	rootHash := root.Hash()
	if _, ok := t.blocks[rootHash]; !ok {
		return nil
	}
	var removed []types.Hash
	for h, b := range t.blocks {
		if h == rootHash {
			continue
		}
		if b.Height <= root.Height || !t.Extends(b, rootHash) {
			removed = append(removed, h)
		}
	}
	for _, h := range removed {
		delete(t.blocks, h)
	}
	t.root = root
	return removed
}
