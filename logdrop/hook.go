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

// Package logdrop gives the logging task the priority spec.md §5
// assigns it: lowest of all of nportd's tasks, with a bounded inbox,
// where a caller formatting a log entry must never block on a full
// sink. It wraps a logrus.Hook around a fixed-size channel and a single
// writer goroutine; when the channel is full the entry is dropped and
// a counter is bumped instead of blocking the scheduler, connection
// manager, or any other caller holding config_mutex.
package logdrop

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Hook is a logrus.Hook that never blocks Fire.
type Hook struct {
	out     io.Writer
	levels  []logrus.Level
	inbox   chan []byte
	dropped atomic.Uint64
}

// New builds a Hook writing formatted entries to out, buffering up to
// capacity entries before dropping. It starts the background writer
// goroutine immediately; callers should Close it on shutdown to flush
// and stop the goroutine.
func New(out io.Writer, capacity int, levels ...logrus.Level) *Hook {
	if len(levels) == 0 {
		levels = logrus.AllLevels
	}
	h := &Hook{
		out:    out,
		levels: levels,
		inbox:  make(chan []byte, capacity),
	}
	go h.run()
	return h
}

// Levels implements logrus.Hook.
func (h *Hook) Levels() []logrus.Level { return h.levels }

// Fire implements logrus.Hook. Formatting happens synchronously here,
// since entry is only valid for the duration of the call (logrus reuses
// Entry values once every hook has fired); only the resulting byte
// slice is handed to the writer goroutine, and that handoff never
// blocks — a full inbox drops the line and counts it instead.
func (h *Hook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}
	select {
	case h.inbox <- line:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many log entries have been discarded because the
// inbox was full.
func (h *Hook) Dropped() uint64 {
	return h.dropped.Load()
}

// Close stops the writer goroutine after draining whatever is already
// queued.
func (h *Hook) Close() {
	close(h.inbox)
}

func (h *Hook) run() {
	for line := range h.inbox {
		_, _ = h.out.Write(line)
	}
}
