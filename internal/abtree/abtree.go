// Package abtree implements the arena-indexed comparison B+-tree named in
// spec.md §9 design note 1: a "cyclic pointer" dynamic B-tree rearchitected
// as an arena of nodes addressed by int32 indices, so that parent links and
// leaf sibling links are plain integers rather than pointers that could
// form reference cycles. It exposes the same Insert/Find/Remove/Range shape
// as the PMA facade and exists purely as a second, independently-written
// ordered map for differential testing against the APMA core — it is not
// part of the out-of-scope "comparison wrappers for third-party B+-trees"
// (spec.md §1 Non-goals), since it is hand-rolled specifically per §9's
// design note, not a wrapped third-party library.
package abtree

import "sort"

// node is one arena slot: a leaf holding key/value pairs and a sibling
// link, or an internal node holding separator keys and child indices.
// Both cases share one struct so nodes live in a single arena slice and
// can be recycled by index after a merge/collapse.
type node struct {
	leaf     bool
	keys     []int64
	vals     []int64 // leaf only
	children []int32 // internal only, len(children) == len(keys)+1
	parent   int32   // -1 for the root
	next     int32   // leaf only: next leaf in key order, -1 if none
}

// Tree is a B+-tree over int64 keys with int64 values, duplicates
// permitted (lookup and removal act on the first match in the rightmost
// leaf that can hold the key, which is not necessarily the leftmost match
// overall; this matches the APMA core's "lookup returns any one match"
// semantics). Not safe for concurrent use.
type Tree struct {
	order int // max children per internal node; max keys per leaf is order-1
	root  int32
	nodes []node
	free  []int32 // recycled arena slots
	first int32   // leftmost leaf, head of the sibling chain
	size  int
}

// New creates an empty Tree. order is clamped to a minimum of 3, mirroring
// StaticIndex's node-fanout floor.
func New(order int) *Tree {
	if order < 3 {
		order = 3
	}
	tr := &Tree{order: order}
	r := tr.alloc(true)
	tr.root = r
	tr.first = r
	return tr
}

// Size returns the number of key/value pairs currently stored.
func (tr *Tree) Size() int { return tr.size }

func (tr *Tree) alloc(leaf bool) int32 {
	if n := len(tr.free); n > 0 {
		idx := tr.free[n-1]
		tr.free = tr.free[:n-1]
		tr.nodes[idx] = node{leaf: leaf, parent: -1, next: -1}
		return idx
	}
	tr.nodes = append(tr.nodes, node{leaf: leaf, parent: -1, next: -1})
	return int32(len(tr.nodes) - 1)
}

func (tr *Tree) release(idx int32) {
	tr.nodes[idx] = node{}
	tr.free = append(tr.free, idx)
}

// findLeaf returns the arena index of the leaf that would contain k.
func (tr *Tree) findLeaf(k int64) int32 {
	idx := tr.root
	for !tr.nodes[idx].leaf {
		n := &tr.nodes[idx]
		i := sort.Search(len(n.keys), func(j int) bool { return k < n.keys[j] })
		idx = n.children[i]
	}
	return idx
}

// Find returns the value of the first entry matching k in the leaf
// findLeaf reaches, if any.
func (tr *Tree) Find(k int64) (int64, bool) {
	leaf := &tr.nodes[tr.findLeaf(k)]
	i := sort.Search(len(leaf.keys), func(j int) bool { return leaf.keys[j] >= k })
	if i < len(leaf.keys) && leaf.keys[i] == k {
		return leaf.vals[i], true
	}
	return 0, false
}

// Insert adds (k, v). Duplicate keys are permitted and placed adjacent to
// existing equal keys, stably, matching Storage.SegmentInsert's
// tie-breaking (new entries for an equal key land after existing ones).
func (tr *Tree) Insert(k, v int64) {
	leafIdx := tr.findLeaf(k)
	leaf := &tr.nodes[leafIdx]
	i := sort.Search(len(leaf.keys), func(j int) bool { return leaf.keys[j] > k })
	leaf.keys = append(leaf.keys, 0)
	copy(leaf.keys[i+1:], leaf.keys[i:])
	leaf.keys[i] = k
	leaf.vals = append(leaf.vals, 0)
	copy(leaf.vals[i+1:], leaf.vals[i:])
	leaf.vals[i] = v
	tr.size++

	if len(leaf.keys) >= tr.order {
		tr.splitLeaf(leafIdx)
	}
}

// splitLeaf splits an overflowing leaf in two, linking the new leaf into
// the sibling chain and inserting a copy of its first key as a separator
// in the parent (classic B+-tree split: leaves keep full key/value pairs,
// internal nodes only ever hold separator copies).
func (tr *Tree) splitLeaf(idx int32) {
	mid := len(tr.nodes[idx].keys) / 2
	newIdx := tr.alloc(true) // may grow tr.nodes; re-fetch pointers below
	leaf := &tr.nodes[idx]
	newLeaf := &tr.nodes[newIdx]

	newLeaf.keys = append([]int64{}, leaf.keys[mid:]...)
	newLeaf.vals = append([]int64{}, leaf.vals[mid:]...)
	leaf.keys = leaf.keys[:mid:mid]
	leaf.vals = leaf.vals[:mid:mid]
	newLeaf.next = leaf.next
	newLeaf.parent = leaf.parent
	leaf.next = newIdx

	sepKey := newLeaf.keys[0]
	tr.insertIntoParent(idx, sepKey, newIdx)
}

// splitInternal splits an overflowing internal node, moving its median
// separator up into the parent (not copying it: internal separators are
// routing-only, so the median leaves both halves once promoted).
func (tr *Tree) splitInternal(idx int32) {
	mid := len(tr.nodes[idx].keys) / 2
	upKey := tr.nodes[idx].keys[mid]
	newIdx := tr.alloc(false) // may grow tr.nodes; re-fetch pointers below
	n := &tr.nodes[idx]
	newNode := &tr.nodes[newIdx]

	newNode.keys = append([]int64{}, n.keys[mid+1:]...)
	newNode.children = append([]int32{}, n.children[mid+1:]...)
	n.keys = n.keys[:mid:mid]
	n.children = n.children[:mid+1 : mid+1]
	newNode.parent = n.parent
	for _, c := range newNode.children {
		tr.nodes[c].parent = newIdx
	}

	tr.insertIntoParent(idx, upKey, newIdx)
}

// insertIntoParent inserts the separator sepKey and the new right sibling
// rightIdx into leftIdx's parent, splitting the parent in turn if it
// overflows, or creating a new root if leftIdx had none.
func (tr *Tree) insertIntoParent(leftIdx int32, sepKey int64, rightIdx int32) {
	parentIdx := tr.nodes[leftIdx].parent
	if parentIdx == -1 {
		newRoot := tr.alloc(false)
		tr.nodes[newRoot].keys = []int64{sepKey}
		tr.nodes[newRoot].children = []int32{leftIdx, rightIdx}
		tr.nodes[leftIdx].parent = newRoot
		tr.nodes[rightIdx].parent = newRoot
		tr.root = newRoot
		return
	}
	tr.nodes[rightIdx].parent = parentIdx

	parent := &tr.nodes[parentIdx]
	pos := childPos(parent.children, leftIdx)
	parent.keys = append(parent.keys, 0)
	copy(parent.keys[pos+1:], parent.keys[pos:])
	parent.keys[pos] = sepKey
	parent.children = append(parent.children, 0)
	copy(parent.children[pos+2:], parent.children[pos+1:])
	parent.children[pos+1] = rightIdx

	if len(parent.children) > tr.order {
		tr.splitInternal(parentIdx)
	}
}

func childPos(children []int32, idx int32) int {
	for i, c := range children {
		if c == idx {
			return i
		}
	}
	return -1
}

// Remove deletes the first entry matching k in the leaf findLeaf reaches,
// returning its value.
func (tr *Tree) Remove(k int64) (int64, bool) {
	leafIdx := tr.findLeaf(k)
	leaf := &tr.nodes[leafIdx]
	i := sort.Search(len(leaf.keys), func(j int) bool { return leaf.keys[j] >= k })
	if i == len(leaf.keys) || leaf.keys[i] != k {
		return 0, false
	}
	val := leaf.vals[i]
	leaf.keys = append(leaf.keys[:i], leaf.keys[i+1:]...)
	leaf.vals = append(leaf.vals[:i], leaf.vals[i+1:]...)
	tr.size--

	if len(leaf.keys) == 0 && leafIdx != tr.root {
		tr.unlinkLeaf(leafIdx)
		parent := tr.nodes[leafIdx].parent
		tr.release(leafIdx)
		tr.removeChild(parent, leafIdx)
	}
	return val, true
}

// unlinkLeaf splices idx out of the leaf sibling chain. The chain is only
// forward-linked, so finding idx's predecessor is an O(leaves) walk from
// the head — acceptable for a differential-testing comparison structure,
// not a hot path of the APMA core itself.
func (tr *Tree) unlinkLeaf(idx int32) {
	if tr.first == idx {
		tr.first = tr.nodes[idx].next
		return
	}
	for cur := tr.first; cur != -1; cur = tr.nodes[cur].next {
		if tr.nodes[cur].next == idx {
			tr.nodes[cur].next = tr.nodes[idx].next
			return
		}
	}
}

// removeChild removes childIdx (already emptied and released by the
// caller) and its adjacent separator from parentIdx, collapsing the
// parent if it becomes redundant: a root with a single remaining child is
// replaced by that child; a non-root internal node reduced to a single
// child is spliced out of the tree entirely (its separator-less pointer
// role is no longer needed once it routes to only one subtree).
func (tr *Tree) removeChild(parentIdx, childIdx int32) {
	parent := &tr.nodes[parentIdx]
	pos := childPos(parent.children, childIdx)
	parent.children = append(parent.children[:pos], parent.children[pos+1:]...)
	keyPos := pos
	if keyPos >= len(parent.keys) {
		keyPos = pos - 1
	}
	parent.keys = append(parent.keys[:keyPos], parent.keys[keyPos+1:]...)

	if parentIdx == tr.root {
		if len(parent.children) == 1 {
			newRoot := parent.children[0]
			tr.nodes[newRoot].parent = -1
			tr.root = newRoot
			tr.release(parentIdx)
		}
		return
	}
	if len(parent.children) == 1 {
		only := parent.children[0]
		grandparent := tr.nodes[parentIdx].parent
		tr.nodes[only].parent = grandparent
		tr.replaceChild(grandparent, parentIdx, only)
		tr.release(parentIdx)
	}
}

func (tr *Tree) replaceChild(parentIdx, oldChild, newChild int32) {
	parent := &tr.nodes[parentIdx]
	for i, c := range parent.children {
		if c == oldChild {
			parent.children[i] = newChild
			return
		}
	}
}

// Iterator walks entries in ascending key order across the leaf sibling
// chain, starting at the first entry >= the Range's min and stopping
// once a key exceeds max.
type Iterator struct {
	tr   *Tree
	leaf int32
	pos  int
	max  int64
	done bool
}

// Range returns an Iterator over entries with key in [min, max].
func (tr *Tree) Range(min, max int64) *Iterator {
	// Descend to the leftmost leaf that can hold min: duplicates equal to a
	// separator may sit in the child left of it as well as right of it.
	leafIdx := tr.root
	for !tr.nodes[leafIdx].leaf {
		n := &tr.nodes[leafIdx]
		i := sort.Search(len(n.keys), func(j int) bool { return min <= n.keys[j] })
		leafIdx = n.children[i]
	}
	leaf := &tr.nodes[leafIdx]
	pos := sort.Search(len(leaf.keys), func(j int) bool { return leaf.keys[j] >= min })
	return &Iterator{tr: tr, leaf: leafIdx, pos: pos, max: max}
}

// Next returns the next (key, value) in range, or ok=false once exhausted.
func (it *Iterator) Next() (int64, int64, bool) {
	if it.done {
		return 0, 0, false
	}
	for {
		if it.leaf == -1 {
			it.done = true
			return 0, 0, false
		}
		leaf := &it.tr.nodes[it.leaf]
		if it.pos >= len(leaf.keys) {
			it.leaf = leaf.next
			it.pos = 0
			continue
		}
		k := leaf.keys[it.pos]
		if k > it.max {
			it.done = true
			return 0, 0, false
		}
		v := leaf.vals[it.pos]
		it.pos++
		return k, v, true
	}
}
