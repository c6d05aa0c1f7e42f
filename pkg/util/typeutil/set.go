// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package typeutil

import "github.com/samber/lo"

// Set 是基于 map 的无序集合，注册表用它记录被忽略的类型。
type Set[T comparable] map[T]struct{}

func NewSet[T comparable](elements ...T) Set[T] {
	set := make(Set[T], len(elements))
	set.Insert(elements...)
	return set
}

func (set Set[T]) Insert(elements ...T) {
	for _, elem := range elements {
		set[elem] = struct{}{}
	}
}

// Contain 在全部元素都存在时返回 true。
func (set Set[T]) Contain(elements ...T) bool {
	return lo.EveryBy(elements, func(elem T) bool {
		_, ok := set[elem]
		return ok
	})
}

func (set Set[T]) Remove(elements ...T) {
	for _, elem := range elements {
		delete(set, elem)
	}
}

// Collect 以任意顺序返回全部元素。
func (set Set[T]) Collect() []T {
	return lo.Keys(set)
}

func (set Set[T]) Len() int {
	return len(set)
}

// OrderedSet 按插入顺序记录元素，类型发现阶段用它保证遍历顺序与注册顺序一致。
type OrderedSet[T comparable] struct {
	index map[T]int
	items []T
}

func NewOrderedSet[T comparable](elements ...T) *OrderedSet[T] {
	set := &OrderedSet[T]{index: make(map[T]int)}
	set.Insert(elements...)
	return set
}

// Insert 追加元素，已存在的元素保持原有位置。
// 返回本次新增的元素个数。
func (set *OrderedSet[T]) Insert(elements ...T) int {
	added := 0
	for _, elem := range elements {
		if _, ok := set.index[elem]; ok {
			continue
		}
		set.index[elem] = len(set.items)
		set.items = append(set.items, elem)
		added++
	}
	return added
}

func (set *OrderedSet[T]) Contain(elem T) bool {
	_, ok := set.index[elem]
	return ok
}

// IndexOf 返回元素的插入序号，不存在时返回 -1。
func (set *OrderedSet[T]) IndexOf(elem T) int {
	if i, ok := set.index[elem]; ok {
		return i
	}
	return -1
}

func (set *OrderedSet[T]) Len() int {
	return len(set.items)
}

// Collect 返回按插入顺序排列的元素副本。
func (set *OrderedSet[T]) Collect() []T {
	out := make([]T, len(set.items))
	copy(out, set.items)
	return out
}
