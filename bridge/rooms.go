// Copyright 2026 The Charbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/charbridge/charbridge/lib/ref"
)

const defaultRoomQueueSize = 16

// roomRouter runs one worker goroutine per room, created lazily on
// first dispatch. Jobs for the same room execute in arrival order on
// that room's worker; jobs for different rooms run concurrently. When
// a room's queue is full the job is dropped with a warning rather than
// blocking the sync loop.
type roomRouter struct {
	ctx       context.Context
	logger    *slog.Logger
	queueSize int

	mu     sync.Mutex
	queues map[ref.RoomID]chan func(context.Context)
	wg     sync.WaitGroup
}

func newRoomRouter(ctx context.Context, queueSize int, logger *slog.Logger) *roomRouter {
	if queueSize <= 0 {
		queueSize = defaultRoomQueueSize
	}
	return &roomRouter{
		ctx:       ctx,
		logger:    logger,
		queueSize: queueSize,
		queues:    make(map[ref.RoomID]chan func(context.Context)),
	}
}

// dispatch queues a job on the room's worker, spawning it on first use.
func (r *roomRouter) dispatch(roomID ref.RoomID, job func(context.Context)) {
	r.mu.Lock()
	queue, ok := r.queues[roomID]
	if !ok {
		queue = make(chan func(context.Context), r.queueSize)
		r.queues[roomID] = queue
		r.wg.Add(1)
		go r.runWorker(roomID, queue)
	}
	r.mu.Unlock()

	select {
	case queue <- job:
	default:
		r.logger.Warn("room queue full, dropping message", "room_id", roomID)
	}
}

func (r *roomRouter) runWorker(roomID ref.RoomID, queue chan func(context.Context)) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case job := <-queue:
			job(r.ctx)
		}
	}
}

// wait blocks until all workers have observed context cancellation.
func (r *roomRouter) wait() {
	r.wg.Wait()
}
