/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package leveldb persists consensus state in a goleveldb database.
package leveldb

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.etcd.io/etcd/pkg/fileutil"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

var (
	keySafetyData   = []byte("hs/safety")
	keyLivenessData = []byte("hs/liveness")
	prefixBlock     = []byte("hs/block/")
)

var _ api.Persister = (*Persister)(nil)

// Persister implements api.Persister. Safety data is written with fsync so a
// vote is never sent before the vote record is durable.
type Persister struct {
	db *leveldb.DB
}

// Open opens or creates the database under dir.
func Open(dir string) (*Persister, error) {
	if err := fileutil.TouchDirAll(dir); err != nil {
		return nil, errors.Wrapf(err, "cannot access data dir [%s]", dir)
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed opening leveldb at [%s]", dir)
	}
	return &Persister{db: db}, nil
}

// OpenMemory opens a database backed by memory, for tests and for replicas
// started without a data directory.
func OpenMemory() (*Persister, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Persister{db: db}, nil
}

// Exists reports whether dir already holds a database.
func Exists(dir string) bool {
	return fileutil.Exist(dir) && fileutil.Exist(dir+"/CURRENT")
}

func (p *Persister) GetSafetyData() (*api.SafetyData, error) {
	data := &api.SafetyData{}
	found, err := p.get(keySafetyData, data)
	if err != nil || !found {
		return nil, err
	}
	return data, nil
}

func (p *Persister) PutSafetyData(data *api.SafetyData) error {
	return p.put(keySafetyData, data, true)
}

func (p *Persister) GetLivenessData() (*api.LivenessData, error) {
	data := &api.LivenessData{}
	found, err := p.get(keyLivenessData, data)
	if err != nil || !found {
		return nil, err
	}
	return data, nil
}

func (p *Persister) PutLivenessData(data *api.LivenessData) error {
	return p.put(keyLivenessData, data, false)
}

func (p *Persister) PutBlock(block *types.Block) error {
	hash := block.Hash()
	return p.put(blockKey(hash), block, false)
}

// GetBlock returns (nil, nil) when the block is unknown.
func (p *Persister) GetBlock(hash types.Hash) (*types.Block, error) {
	block := &types.Block{}
	found, err := p.get(blockKey(hash), block)
	if err != nil || !found {
		return nil, err
	}
	return block, nil
}

// DeleteBlocks removes the given blocks in one batch.
func (p *Persister) DeleteBlocks(hashes []types.Hash) error {
	batch := new(leveldb.Batch)
	for _, h := range hashes {
		batch.Delete(blockKey(h))
	}
	return p.db.Write(batch, nil)
}

func (p *Persister) Close() error {
	return p.db.Close()
}

func (p *Persister) get(key []byte, v interface{}) (bool, error) {
	raw, err := p.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed reading key [%s]", key)
	}
	if err = cbor.Unmarshal(raw, v); err != nil {
		return false, errors.Wrapf(err, "corrupted value under key [%s]", key)
	}
	return true, nil
}

func (p *Persister) put(key []byte, v interface{}, sync bool) error {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed encoding value for key [%s]", key)
	}
	if err = p.db.Put(key, raw, &opt.WriteOptions{Sync: sync}); err != nil {
		return errors.Wrapf(err, "failed writing key [%s]", key)
	}
	return nil
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, 0, len(prefixBlock)+types.HashLength)
	key = append(key, prefixBlock...)
	return append(key, hash[:]...)
}
