// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package policy runs a learned packing policy as a background
// batched evaluator feeding per-transition priors to the search.
package policy

import (
	"sync"

	"github.com/packvec/packvec/mcts"
)

// Model is the learned policy itself, consumed only through
// batched inference: for each node, a weight per transition
// (a softmax over the node's children).
type Model interface {
	// MaxLanes is the lane-count cap the model was trained with.
	MaxLanes() int
	// BatchForward evaluates a batch of nodes; result i holds
	// the transition weights of nodes[i].
	BatchForward(nodes []*mcts.Node) [][]float64
}

// Batched evaluates nodes on a fixed pool of worker goroutines,
// batching requests up to a configured size. Backpressure: an
// inflight cap bounds the queue, blocking PredictAsync callers
// until workers catch up. Cancel unblocks both producers and
// waiters; cancelled predictions report no prior.
type Batched struct {
	model Model
	batch int

	queue chan *mcts.Node
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	mu   sync.Mutex
	done map[*mcts.Node]chan struct{}
}

// NewBatched starts numThreads workers evaluating batches of up
// to batchSize nodes, with at most maxInflight requests queued.
func NewBatched(model Model, batchSize, numThreads, maxInflight int) *Batched {
	if batchSize < 1 {
		batchSize = 1
	}
	if numThreads < 1 {
		numThreads = 1
	}
	if maxInflight < batchSize {
		maxInflight = batchSize
	}
	b := &Batched{
		model: model,
		batch: batchSize,
		queue: make(chan *mcts.Node, maxInflight),
		stop:  make(chan struct{}),
		done:  make(map[*mcts.Node]chan struct{}),
	}
	b.wg.Add(numThreads)
	for i := 0; i < numThreads; i++ {
		go b.worker()
	}
	return b
}

// PredictAsync enqueues n for evaluation. Duplicate requests
// for a node already pending are ignored. Blocks only when the
// inflight cap is reached.
func (b *Batched) PredictAsync(n *mcts.Node) {
	if n.Prior() != nil {
		return // already evaluated
	}
	b.mu.Lock()
	if _, pending := b.done[n]; pending {
		b.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	b.done[n] = ch
	b.mu.Unlock()

	select {
	case b.queue <- n:
	case <-b.stop:
		b.complete(n)
	}
}

// Predict blocks until n's transition weights are available and
// returns them; a cancelled policy returns nil (no prior).
func (b *Batched) Predict(n *mcts.Node) []float64 {
	b.PredictAsync(n)
	b.mu.Lock()
	ch := b.done[n]
	b.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-b.stop:
		}
	}
	return n.Prior()
}

// Cancel shuts the evaluator down: producers blocked on a full
// queue and waiters in Predict unblock, the queue drains, and
// workers exit after finishing their current batch.
func (b *Batched) Cancel() {
	b.once.Do(func() {
		close(b.stop)
		for {
			select {
			case n := <-b.queue:
				b.complete(n)
			default:
				b.flushWaiters()
				return
			}
		}
	})
}

// Close cancels the evaluator and joins the workers.
func (b *Batched) Close() error {
	b.Cancel()
	b.wg.Wait()
	return nil
}

func (b *Batched) worker() {
	defer b.wg.Done()
	for {
		var first *mcts.Node
		select {
		case <-b.stop:
			return
		case first = <-b.queue:
		}
		batch := []*mcts.Node{first}
		for len(batch) < b.batch {
			select {
			case n := <-b.queue:
				batch = append(batch, n)
			default:
				goto run
			}
		}
	run:
		weights := b.model.BatchForward(batch)
		for i, n := range batch {
			if i < len(weights) {
				n.SetPrior(weights[i])
			}
			b.complete(n)
		}
	}
}

// complete signals n's waiter (if any) exactly once.
func (b *Batched) complete(n *mcts.Node) {
	b.mu.Lock()
	ch := b.done[n]
	delete(b.done, n)
	b.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (b *Batched) flushWaiters() {
	b.mu.Lock()
	chans := make([]chan struct{}, 0, len(b.done))
	for n, ch := range b.done {
		chans = append(chans, ch)
		delete(b.done, n)
	}
	b.mu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
}
