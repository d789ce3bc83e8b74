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

import (
	"testing"
)

func TestCacheBasic(t *testing.T) {
	cache := newCache(4)

	obj, ok := cache.Get(NewReference(1, 0))
	if ok || obj != nil {
		t.Error("hit in empty cache")
	}

	cache.Put(NewReference(1, 0), Integer(1))
	cache.Put(NewReference(2, 0), Name("two"))
	obj, ok = cache.Get(NewReference(1, 0))
	if !ok || obj != Integer(1) {
		t.Errorf("wrong object %v", obj)
	}
	obj, ok = cache.Get(NewReference(2, 0))
	if !ok || obj != Name("two") {
		t.Errorf("wrong object %v", obj)
	}

	// updating a key keeps a single entry
	cache.Put(NewReference(1, 0), Integer(11))
	obj, _ = cache.Get(NewReference(1, 0))
	if obj != Integer(11) {
		t.Errorf("wrong object %v", obj)
	}
}

func TestCacheEviction(t *testing.T) {
	const capacity = 8
	cache := newCache(capacity)

	hot := NewReference(1000, 0)
	cache.Put(hot, Integer(1000))

	// Insert many other objects, touching the hot object regularly.  The
	// hot object must survive, while long-unused entries are evicted.
	for i := 0; i < 10*capacity; i++ {
		cache.Put(NewReference(uint32(i), 0), Integer(i))
		if _, ok := cache.Get(hot); !ok {
			t.Fatalf("hot object lost after %d inserts", i+1)
		}
	}

	if _, ok := cache.Get(NewReference(0, 0)); ok {
		t.Error("stale object not evicted")
	}

	// the cache never grows beyond two generations
	if n := len(cache.cur) + len(cache.old); n > 2*capacity {
		t.Errorf("cache holds %d objects", n)
	}
}

func TestCacheDisabled(t *testing.T) {
	cache := newCache(0)
	cache.Put(NewReference(1, 0), Integer(1))
	if _, ok := cache.Get(NewReference(1, 0)); ok {
		t.Error("disabled cache stored an object")
	}
}
