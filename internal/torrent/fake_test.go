// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"context"
	"errors"
	"sync"
)

type call struct {
	op          string
	ids         []string
	deleteFiles bool
}

type fakeClient struct {
	mu      sync.Mutex
	records []Record
	listErr error
	failIDs map[string]bool
	calls   []call

	// onAct runs after every action call.
	onAct func(n int)
}

func (f *fakeClient) Name() string { return "fake" }
func (f *fakeClient) Type() string { return "fake" }

func (f *fakeClient) Torrents(_ context.Context, tags []string) ([]Record, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return FilterByTags(f.records, tags), nil
}

func (f *fakeClient) record(op string, ids []string, deleteFiles bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{op: op, ids: append([]string{}, ids...), deleteFiles: deleteFiles})
	n := len(f.calls)
	f.mu.Unlock()

	if f.onAct != nil {
		f.onAct(n)
	}
	for _, id := range ids {
		if f.failIDs[id] {
			return errors.New("backend refused " + id)
		}
	}
	return nil
}

func (f *fakeClient) Stop(_ context.Context, ids []string) error {
	return f.record("stop", ids, false)
}

func (f *fakeClient) Delete(_ context.Context, ids []string, deleteFiles bool) error {
	return f.record("delete", ids, deleteFiles)
}

func (f *fakeClient) AddTags(_ context.Context, ids []string, _ []string) error {
	return f.record("tag", ids, false)
}
