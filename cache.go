// seehuhn.de/go/pdfunlock - remove password protection from PDF files
// Copyright (C) 2023  Jochen Voss <voss@seehuhn.de>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pdfunlock

// objectCache caches decoded indirect objects.  Entries are kept in two
// generations; when the current generation is full it becomes the old
// generation and the previous old generation is discarded.  This
// approximates LRU eviction without per-access bookkeeping.  At most
// 2*capacity objects are retained.
type objectCache struct {
	capacity int
	cur, old map[Reference]Object
}

func newCache(capacity int) *objectCache {
	return &objectCache{
		capacity: capacity,
		cur:      make(map[Reference]Object, capacity),
	}
}

// Get returns a cached object.  Objects found in the old generation are
// promoted, so that frequently used objects survive rotation.
func (c *objectCache) Get(key Reference) (Object, bool) {
	if obj, ok := c.cur[key]; ok {
		return obj, true
	}
	if obj, ok := c.old[key]; ok {
		c.store(key, obj)
		return obj, true
	}
	return nil, false
}

// Put adds an object to the cache.
func (c *objectCache) Put(key Reference, obj Object) {
	if c.capacity <= 0 {
		return
	}
	c.store(key, obj)
}

func (c *objectCache) store(key Reference, obj Object) {
	if len(c.cur) >= c.capacity {
		if _, ok := c.cur[key]; !ok {
			c.old = c.cur
			c.cur = make(map[Reference]Object, c.capacity)
		}
	}
	c.cur[key] = obj
}
