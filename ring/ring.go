/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ring implements a bounded single-producer/single-consumer byte
// queue. There is no internal locking: callers are responsible for
// ensuring a single goroutine enqueues and a single goroutine dequeues,
// the same way the channel data pump's Realtime/Network Scheduler tasks
// serialize access to buffer_uart/buffer_net by construction.
package ring

// Buffer is a fixed-capacity byte ring buffer. Overflow never overwrites
// unread data: Enqueue truncates to available space and returns a short
// count, leaving it to the caller to bump a drop counter.
type Buffer struct {
	data  []byte
	head  int // next byte to read
	tail  int // next slot to write
	count int
}

// New allocates a Buffer with the given capacity.
func New(size int) *Buffer {
	b := &Buffer{}
	b.Init(size)
	return b
}

// Init (re)sizes the buffer and resets head/tail/count to empty.
func (b *Buffer) Init(size int) {
	b.data = make([]byte, size)
	b.head = 0
	b.tail = 0
	b.count = 0
}

// Cap returns the buffer's total capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// IsEmpty reports whether the buffer holds no bytes.
func (b *Buffer) IsEmpty() bool {
	return b.count == 0
}

// IsFull reports whether the buffer has no free space.
func (b *Buffer) IsFull() bool {
	return b.count == len(b.data)
}

// NumItems returns the number of unread bytes currently queued.
func (b *Buffer) NumItems() int {
	return b.count
}

// FreeSpace returns the number of bytes that can still be enqueued.
func (b *Buffer) FreeSpace() int {
	return len(b.data) - b.count
}

// Enqueue copies as many bytes of p as fit and returns the count actually
// written. It never blocks and never overwrites unread data.
func (b *Buffer) Enqueue(p []byte) int {
	n := len(p)
	free := b.FreeSpace()
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		b.data[b.tail] = p[i]
		b.tail = (b.tail + 1) % len(b.data)
	}
	b.count += n
	return n
}

// Dequeue copies up to len(p) queued bytes into p and returns the count
// actually read.
func (b *Buffer) Dequeue(p []byte) int {
	n := len(p)
	if n > b.count {
		n = b.count
	}
	for i := 0; i < n; i++ {
		p[i] = b.data[b.head]
		b.head = (b.head + 1) % len(b.data)
	}
	b.count -= n
	return n
}
