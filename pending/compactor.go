// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package pending

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/trumanellis/indranet/telemetry"
)

// CompactionLoop runs periodic background compaction of a Store,
// following the teacher's start/stop/context-cancellation shape for
// long-running background workers.
type CompactionLoop struct {
	store    *Store
	interval time.Duration
	log      log.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewCompactionLoop constructs a loop that compacts store every
// interval until Stop is called.
func NewCompactionLoop(store *Store, interval time.Duration, logger log.Logger) *CompactionLoop {
	if logger == nil {
		logger = telemetry.NewNoOpLogger()
	}
	return &CompactionLoop{
		store:    store,
		interval: interval,
		log:      telemetry.Component(logger, "pending.compactor"),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. It must be called at most once.
func (c *CompactionLoop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.store.Compact(); err != nil {
					c.log.Warn("periodic compaction failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and blocks until its goroutine has exited.
func (c *CompactionLoop) Stop() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		<-c.done
	})
}
