package storage

// Iterators are pull-based, lazy, and not restartable (§9): each call
// to Next acquires only the lock needed to produce the next item, not
// a lock held for the whole scan. They are backed by a generator
// goroutine feeding a small buffered channel, closed via `done` if the
// caller abandons the iterator before exhausting it.

type VertexIter struct {
	items chan Vertex
	done  chan struct{}
	cur   Vertex
}

func newVertexIter(t *Transaction) *VertexIter {
	it := &VertexIter{items: make(chan Vertex, 16), done: make(chan struct{})}
	startTS, txnID := t.startTS, t.txnID
	go func() {
		defer close(it.items)
		t.graph.IterVertices(startTS, txnID, func(v Vertex) bool {
			select {
			case it.items <- v:
				return true
			case <-it.done:
				return false
			}
		})
	}()
	return it
}

// Next advances the iterator. It returns false once exhausted.
func (it *VertexIter) Next() bool {
	v, ok := <-it.items
	if !ok {
		return false
	}
	it.cur = v
	return true
}

// Vertex returns the current element; valid only after Next returns true.
func (it *VertexIter) Vertex() Vertex { return it.cur }

// Close abandons the iterator, releasing the generator goroutine.
// Safe to call multiple times.
func (it *VertexIter) Close() {
	select {
	case <-it.done:
	default:
		close(it.done)
	}
}

type EdgeIter struct {
	items chan Edge
	done  chan struct{}
	cur   Edge
}

func newEdgeIter(t *Transaction) *EdgeIter {
	it := &EdgeIter{items: make(chan Edge, 16), done: make(chan struct{})}
	startTS, txnID := t.startTS, t.txnID
	go func() {
		defer close(it.items)
		t.graph.IterEdges(startTS, txnID, func(e Edge) bool {
			select {
			case it.items <- e:
				return true
			case <-it.done:
				return false
			}
		})
	}()
	return it
}

func (it *EdgeIter) Next() bool {
	e, ok := <-it.items
	if !ok {
		return false
	}
	it.cur = e
	return true
}

func (it *EdgeIter) Edge() Edge { return it.cur }

func (it *EdgeIter) Close() {
	select {
	case <-it.done:
	default:
		close(it.done)
	}
}

type AdjacencyIter struct {
	items chan Neighbor
	done  chan struct{}
	cur   Neighbor
	err   error
}

func newAdjacencyIter(t *Transaction, vid VertexID, dir Direction) *AdjacencyIter {
	it := &AdjacencyIter{items: make(chan Neighbor, 16), done: make(chan struct{})}
	startTS, txnID := t.startTS, t.txnID
	go func() {
		defer close(it.items)
		it.err = t.graph.IterAdjacency(vid, dir, startTS, txnID, func(n Neighbor) bool {
			select {
			case it.items <- n:
				return true
			case <-it.done:
				return false
			}
		})
	}()
	return it
}

func (it *AdjacencyIter) Next() bool {
	n, ok := <-it.items
	if !ok {
		return false
	}
	it.cur = n
	return true
}

func (it *AdjacencyIter) Neighbor() Neighbor { return it.cur }

// Err returns any error encountered building the iterator (e.g. the
// vertex was not found); check after Next returns false.
func (it *AdjacencyIter) Err() error { return it.err }

func (it *AdjacencyIter) Close() {
	select {
	case <-it.done:
	default:
		close(it.done)
	}
}
