// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package worker

import (
	"sync"

	"github.com/breezewish/go-compilerd/packet"
)

// backlog is an unbounded FIFO of accepted requests. push never blocks, so
// the read loop is never held up by slow compilations.
type backlog struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*packet.Request
	closed bool
}

func newBacklog() *backlog {
	b := &backlog{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *backlog) push(req *packet.Request) {
	b.mu.Lock()
	b.items = append(b.items, req)
	b.mu.Unlock()
	b.cond.Signal()
}

// pop blocks until a request is available. It returns false once the backlog
// is closed and drained.
func (b *backlog) pop() (*packet.Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.items) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.items) == 0 {
		return nil, false
	}
	req := b.items[0]
	b.items[0] = nil
	b.items = b.items[1:]
	return req, true
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *backlog) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}
