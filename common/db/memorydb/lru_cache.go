/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memorydb

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/zhigui-projects/hotstuff-consensus/api"
)

var _ api.Database = (*LRUCache)(nil)

// LRUCache is a bounded in-memory api.Database evicting the least recently
// used entry.
type LRUCache struct {
	cache *lru.Cache[interface{}, interface{}]
}

func NewLRUCache(size int) *LRUCache {
	cache, err := lru.New[interface{}, interface{}](size)
	if err != nil {
		panic(err)
	}
	return &LRUCache{cache: cache}
}

func (c *LRUCache) Get(key interface{}) (interface{}, error) {
	val, ok := c.cache.Get(key)
	if !ok {
		return nil, errors.Errorf("Error retrieving memorydb key: %v", key)
	}
	return val, nil
}

func (c *LRUCache) Put(key interface{}, value interface{}) error {
	c.cache.Add(key, value)
	return nil
}

func (c *LRUCache) Delete(key interface{}) error {
	c.cache.Remove(key)
	return nil
}

func (c *LRUCache) Close() {
	c.cache.Purge()
}

func (c *LRUCache) Len() int {
	return c.cache.Len()
}
