// Iris - Decentralized cloud messaging
// Copyright (c) 2013 Project Iris. All rights reserved.
//
// Iris is dual licensed: you can redistribute it and/or modify it under the
// terms of the GNU General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later
// version.
//
// The framework is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.
//
// Alternatively, the Iris framework may be used in accordance with the terms
// and conditions contained in a signed written agreement between you and the
// author(s).

// Package queue implements a growing circular FIFO buffer, used by the
// tunnel scheme to hold reassembled inbound messages until the application
// drains them.
package queue

// Queue is a growing ring buffer of arbitrary values. It is not safe for
// concurrent use; callers serialize access with their own lock.
type Queue struct {
	data []interface{}
	head int
	size int
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{data: make([]interface{}, 4)}
}

// Empty reports whether the queue holds no elements.
func (q *Queue) Empty() bool {
	return q.size == 0
}

// Len returns the number of queued elements.
func (q *Queue) Len() int {
	return q.size
}

// Push appends a value to the back of the queue, growing the backing array
// if necessary.
func (q *Queue) Push(val interface{}) {
	if q.size == len(q.data) {
		q.grow()
	}
	q.data[(q.head+q.size)%len(q.data)] = val
	q.size++
}

// Pop removes and returns the value at the front of the queue. It panics if
// the queue is empty; callers must check Empty first.
func (q *Queue) Pop() interface{} {
	if q.size == 0 {
		panic("queue: pop from empty queue")
	}
	val := q.data[q.head]
	q.data[q.head] = nil
	q.head = (q.head + 1) % len(q.data)
	q.size--
	return val
}

// grow doubles the backing array and re-linearizes the contents.
func (q *Queue) grow() {
	next := make([]interface{}, len(q.data)*2)
	for i := 0; i < q.size; i++ {
		next[i] = q.data[(q.head+i)%len(q.data)]
	}
	q.data = next
	q.head = 0
}
