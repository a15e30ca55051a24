// Copyright 2025 Civic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package search

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BatchFunc processes a whole batch. The returned slice must align
// positionally with inputs.
type BatchFunc[T, R any] func(ctx context.Context, inputs []T) ([]R, error)

// BatcherConfig tunes batching behavior.
type BatcherConfig struct {
	// Window is how long to wait for more requests after the first one
	// arrives (default: 25ms).
	Window time.Duration

	// MaxSize flushes a batch early once this many requests are queued
	// (default: 16).
	MaxSize int

	// Retry configures whole-batch retries on transient failures.
	Retry RetryConfig

	// OnFlush is an optional hook invoked with the batch size after each
	// dispatch (used for metrics).
	OnFlush func(size int)
}

// Batcher coalesces concurrent requests into batched calls. A batch is
// dispatched when MaxSize requests are queued or Window elapses after the
// first request, whichever comes first. Failures reject the whole batch:
// every waiter gets the same error.
type Batcher[T, R any] struct {
	fn      BatchFunc[T, R]
	window  time.Duration
	maxSize int
	retryer *Retryer
	onFlush func(int)

	requests chan batchRequest[T, R]
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

type batchRequest[T, R any] struct {
	input T
	reply chan batchReply[R]
}

type batchReply[R any] struct {
	result R
	err    error
}

// NewBatcher creates and starts a Batcher.
func NewBatcher[T, R any](fn BatchFunc[T, R], cfg BatcherConfig) *Batcher[T, R] {
	if cfg.Window <= 0 {
		cfg.Window = 25 * time.Millisecond
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 16
	}

	b := &Batcher[T, R]{
		fn:       fn,
		window:   cfg.Window,
		maxSize:  cfg.MaxSize,
		retryer:  NewRetryer(cfg.Retry),
		onFlush:  cfg.OnFlush,
		requests: make(chan batchRequest[T, R]),
		done:     make(chan struct{}),
	}

	b.wg.Add(1)
	go b.loop()
	return b
}

// Submit queues one input and blocks until its result is available, the
// context is cancelled, or the batcher is closed.
func (b *Batcher[T, R]) Submit(ctx context.Context, input T) (R, error) {
	var zero R

	req := batchRequest[T, R]{
		input: input,
		reply: make(chan batchReply[R], 1),
	}

	select {
	case b.requests <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-b.done:
		return zero, fmt.Errorf("batcher is closed")
	}

	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		// The batch still processes; only this waiter gives up.
		return zero, ctx.Err()
	}
}

// Close stops accepting requests and flushes anything pending.
func (b *Batcher[T, R]) Close() {
	b.once.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

func (b *Batcher[T, R]) loop() {
	defer b.wg.Done()

	var pending []batchRequest[T, R]
	var timer *time.Timer
	var timeout <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		if timer != nil {
			timer.Stop()
			timer = nil
			timeout = nil
		}
		b.dispatch(batch)
	}

	for {
		select {
		case req := <-b.requests:
			pending = append(pending, req)
			if len(pending) >= b.maxSize {
				flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(b.window)
				timeout = timer.C
			}

		case <-timeout:
			timer = nil
			timeout = nil
			flush()

		case <-b.done:
			// Drain anything racing with Close, then flush once.
			for {
				select {
				case req := <-b.requests:
					pending = append(pending, req)
				default:
					flush()
					return
				}
			}
		}
	}
}

// dispatch runs one batch and distributes results positionally.
func (b *Batcher[T, R]) dispatch(batch []batchRequest[T, R]) {
	if b.onFlush != nil {
		b.onFlush(len(batch))
	}

	inputs := make([]T, len(batch))
	for i, req := range batch {
		inputs[i] = req.input
	}

	results, err := DoWithResult(context.Background(), b.retryer, "batch", func() ([]R, error) {
		return b.fn(context.Background(), inputs)
	})
	if err == nil && len(results) != len(inputs) {
		err = fmt.Errorf("batch returned %d results for %d inputs", len(results), len(inputs))
	}

	for i, req := range batch {
		if err != nil {
			var zero R
			req.reply <- batchReply[R]{result: zero, err: err}
			continue
		}
		req.reply <- batchReply[R]{result: results[i]}
	}
}

// BatcherRegistry hands out one Batcher per namespace so differently
// configured collections never share a batch.
type BatcherRegistry[T, R any] struct {
	mu       sync.Mutex
	batchers map[string]*Batcher[T, R]
	newFn    func(namespace string) *Batcher[T, R]
}

// NewBatcherRegistry creates a registry. newFn constructs the batcher for
// a namespace on first use.
func NewBatcherRegistry[T, R any](newFn func(namespace string) *Batcher[T, R]) *BatcherRegistry[T, R] {
	return &BatcherRegistry[T, R]{
		batchers: make(map[string]*Batcher[T, R]),
		newFn:    newFn,
	}
}

// Get returns the namespace's batcher, creating it if needed.
func (r *BatcherRegistry[T, R]) Get(namespace string) *Batcher[T, R] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.batchers[namespace]; ok {
		return b
	}
	b := r.newFn(namespace)
	r.batchers[namespace] = b
	return b
}

// Close shuts down every batcher.
func (r *BatcherRegistry[T, R]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.batchers {
		b.Close()
	}
	r.batchers = make(map[string]*Batcher[T, R])
}
