// Package selector implements the weighted random sampler the dispatcher
// uses to pick a backend. It is a complete binary tree of subtree weight
// sums over a sequence of values, sized to the next power of two so every
// root-to-leaf path is the same length.
//
// Grounded on original_source/src/zeromq/counted_tree.hpp: push-only,
// elements are never removed (retire by setting weight to zero), and
// SampleAt walks the tree exactly the way find_index_by_count does.
package selector

// Tree is a sequence of (value, weight) pairs supporting PushBack,
// SetWeight and SampleAt in O(log n). The zero value is an empty, usable
// tree. Not safe for concurrent use — callers serialize access (see
// internal/backend.Table, which owns one behind a mutex).
type Tree[V any] struct {
	values   []V
	leaves   []uint64 // weight per element, parallel to values
	sums     []uint64 // length 2*capacity-1; leaves start at capacity-1
	capacity uint64
}

func nextPowerOfTwo(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Len returns the number of elements ever pushed (retired elements still
// count).
func (t *Tree[V]) Len() int {
	return len(t.values)
}

// Value returns the element at index i.
func (t *Tree[V]) Value(i int) V {
	return t.values[i]
}

// Weight returns the current weight of element i.
func (t *Tree[V]) Weight(i int) uint64 {
	return t.leaves[i]
}

// TotalWeight returns the sum of all current weights, or 0 when empty.
func (t *Tree[V]) TotalWeight() uint64 {
	if t.capacity == 0 {
		return 0
	}
	return t.sums[0]
}

// PushBack appends v with the given initial weight.
func (t *Tree[V]) PushBack(v V, weight uint64) {
	t.values = append(t.values, v)
	t.leaves = append(t.leaves, weight)
	n := uint64(len(t.values))

	if n > t.capacity {
		t.capacity = nextPowerOfTwo(n)
		// t.leaves already holds the new weight, so a from-scratch
		// rebuild picks it up along with every existing element.
		t.rebuild()
		return
	}

	idx := t.capacity - 1 + (n - 1)
	old := t.sums[idx] // always 0: this slot was never an active leaf
	t.setSumPath(idx, weight, int64(weight)-int64(old))
}

// SetWeight changes the weight of element i to w, updating every ancestor
// subtree sum by the resulting delta, per counted_tree::change_count.
func (t *Tree[V]) SetWeight(i int, w uint64) {
	idx := t.capacity - 1 + uint64(i)
	old := t.sums[idx]
	t.leaves[i] = w
	t.setSumPath(idx, w, int64(w)-int64(old))
}

// setSumPath sets the leaf sum at idx to newVal and adds diff to every
// ancestor up to the root.
func (t *Tree[V]) setSumPath(idx uint64, newVal uint64, diff int64) {
	t.sums[idx] = newVal
	for idx != 0 {
		idx = parent(idx)
		t.sums[idx] = uint64(int64(t.sums[idx]) + diff)
	}
}

// SampleAt returns the index i such that
// sum(weight[0..i)) <= r < sum(weight[0..i]). r must satisfy
// 0 <= r < TotalWeight(); ok is false when the tree is empty or the
// total weight is zero (in which case the result is undefined and must
// not be used).
func (t *Tree[V]) SampleAt(r uint64) (index int, ok bool) {
	total := t.TotalWeight()
	if total == 0 || r >= total {
		return 0, false
	}

	internalNodes := t.capacity - 1
	i := uint64(0)
	for i < internalNodes {
		l := left(i)
		if r < t.sums[l] {
			i = l
		} else {
			r -= t.sums[l]
			i = right(i)
		}
	}

	return int(i - internalNodes), true
}

// rebuild reallocates the sum array at the new capacity and recomputes
// every level bottom-up from the canonical per-element weights in
// t.leaves.
func (t *Tree[V]) rebuild() {
	size := 2*t.capacity - 1
	sums := make([]uint64, size)

	leafBase := t.capacity - 1
	for i, w := range t.leaves {
		sums[leafBase+uint64(i)] = w
	}

	t.sums = sums
	for i := int64(t.capacity) - 2; i >= 0; i-- {
		t.sums[i] = t.sums[left(uint64(i))] + t.sums[right(uint64(i))]
	}
}

func parent(node uint64) uint64 {
	return (node - 1) / 2
}

func left(node uint64) uint64 {
	return 2*node + 1
}

func right(node uint64) uint64 {
	return 2*node + 2
}
