package cache

import "txcache/pkg/models"

// lruHandle addresses a node in lruList. The generation makes handles to
// released nodes harmless: operations on a stale handle are no-ops.
type lruHandle struct {
	index int32
	gen   uint32
}

var nilHandle = lruHandle{index: -1}

func (h lruHandle) valid() bool {
	return h.index >= 0
}

type lruNode struct {
	checksum   models.Checksum
	prev, next int32
	gen        uint32
	used       bool
}

// lruList is a doubly-linked list of checksums stored in a slice arena.
// The front holds the least recently used checksum.
type lruList struct {
	nodes []lruNode
	free  []int32
	head  int32
	tail  int32
	len   int
}

func newLRUList() *lruList {
	return &lruList{head: -1, tail: -1}
}

func (l *lruList) Len() int {
	return l.len
}

func (l *lruList) pushBack(checksum models.Checksum) lruHandle {
	var idx int32
	if n := len(l.free); n > 0 {
		idx = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		l.nodes = append(l.nodes, lruNode{})
		idx = int32(len(l.nodes) - 1)
	}

	node := &l.nodes[idx]
	node.checksum = checksum
	node.used = true
	node.prev = l.tail
	node.next = -1
	l.link(idx)
	l.len++

	return lruHandle{index: idx, gen: node.gen}
}

func (l *lruList) link(idx int32) {
	if l.tail >= 0 {
		l.nodes[l.tail].next = idx
	} else {
		l.head = idx
	}
	l.tail = idx
}

func (l *lruList) unlink(idx int32) {
	node := &l.nodes[idx]
	if node.prev >= 0 {
		l.nodes[node.prev].next = node.next
	} else {
		l.head = node.next
	}
	if node.next >= 0 {
		l.nodes[node.next].prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev, node.next = -1, -1
}

func (l *lruList) live(h lruHandle) bool {
	if h.index < 0 || int(h.index) >= len(l.nodes) {
		return false
	}
	node := &l.nodes[h.index]
	return node.used && node.gen == h.gen
}

func (l *lruList) remove(h lruHandle) bool {
	if !l.live(h) {
		return false
	}
	l.release(h.index)
	return true
}

func (l *lruList) release(idx int32) {
	l.unlink(idx)
	node := &l.nodes[idx]
	node.used = false
	node.gen++
	node.checksum = 0
	l.free = append(l.free, idx)
	l.len--
}

// moveToBack marks the node as most recently used.
func (l *lruList) moveToBack(h lruHandle) bool {
	if !l.live(h) {
		return false
	}
	if l.tail == h.index {
		return true
	}
	l.unlink(h.index)
	l.nodes[h.index].prev = l.tail
	l.link(h.index)
	return true
}

func (l *lruList) popFront() (models.Checksum, bool) {
	if l.head < 0 {
		return 0, false
	}
	idx := l.head
	checksum := l.nodes[idx].checksum
	l.release(idx)
	return checksum, true
}

// each walks the list from least to most recently used.
func (l *lruList) each(fn func(models.Checksum)) {
	for idx := l.head; idx >= 0; idx = l.nodes[idx].next {
		fn(l.nodes[idx].checksum)
	}
}

// reset releases every node. Generations survive so old handles stay stale.
func (l *lruList) reset() {
	l.free = l.free[:0]
	for i := range l.nodes {
		node := &l.nodes[i]
		if node.used {
			node.used = false
			node.gen++
		}
		node.checksum = 0
		node.prev, node.next = -1, -1
		l.free = append(l.free, int32(i))
	}
	l.head, l.tail = -1, -1
	l.len = 0
}
