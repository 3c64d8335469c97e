// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) send(url, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, url+"|"+title+"|"+message)
	if strings.HasPrefix(url, "fail://") {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestServiceDeliversToEveryTarget(t *testing.T) {
	rec := &recorder{}
	svc := NewService([]string{"fail://a", " ", "ok://b"}, zerolog.Nop())
	svc.send = rec.send

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	svc.Notify("autoclear: qb removal pass", "1 torrents paused")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{
		"fail://a|autoclear: qb removal pass|1 torrents paused",
		"ok://b|autoclear: qb removal pass|1 torrents paused",
	}, rec.snapshot())
}

func TestFlushWaitsForDelivery(t *testing.T) {
	rec := &recorder{}
	svc := NewService([]string{"ok://a"}, zerolog.Nop())
	svc.send = rec.send

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for range 5 {
		svc.Notify("title", "message")
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), time.Second)
	defer flushCancel()
	require.NoError(t, svc.Flush(flushCtx))
	assert.Len(t, rec.snapshot(), 5)
}

func TestFlushHonorsContext(t *testing.T) {
	svc := NewService([]string{"ok://a"}, zerolog.Nop())
	svc.Notify("title", "message")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.Flush(ctx), context.Canceled)
}

func TestNotifyDropsEmptyAndOverflow(t *testing.T) {
	svc := NewService([]string{"ok://a"}, zerolog.Nop())

	svc.Notify("title", "   ")
	assert.Empty(t, svc.queue)

	for range defaultQueueSize + 5 {
		svc.Notify("title", "message")
	}
	assert.Len(t, svc.queue, defaultQueueSize)
}

func TestNilServiceIsSafe(t *testing.T) {
	var svc *Service
	assert.NotPanics(t, func() {
		svc.Start(context.Background())
		svc.Notify("t", "m")
	})
}

func TestTruncateMessage(t *testing.T) {
	tests := []struct {
		name  string
		value string
		limit int
		want  string
	}{
		{name: "short", value: "  hello ", limit: 10, want: "hello"},
		{name: "no limit", value: "hello", limit: 0, want: "hello"},
		{name: "truncated", value: "hello world", limit: 6, want: "hello…"},
		{name: "single rune", value: "hello", limit: 1, want: "h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncateMessage(tt.value, tt.limit))
		})
	}
}
