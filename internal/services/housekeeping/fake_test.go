// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package housekeeping

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/autobrr/autoclear/internal/torrent"
)

type fakeClient struct {
	name string

	mu        sync.Mutex
	records   []torrent.Record
	listErr   error
	panicList bool
	calls     []string
}

func (f *fakeClient) Name() string { return f.name }
func (f *fakeClient) Type() string { return "fake" }

func (f *fakeClient) Torrents(_ context.Context, tags []string) ([]torrent.Record, error) {
	if f.panicList {
		panic("list exploded")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]torrent.Record, 0, len(f.records))
	for _, r := range torrent.FilterByTags(f.records, tags) {
		r.Tags = slices.Clone(r.Tags)
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeClient) record(call string, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call+":"+strings.Join(ids, ","))
}

func (f *fakeClient) Stop(_ context.Context, ids []string) error {
	f.record("stop", ids)
	return nil
}

func (f *fakeClient) Delete(_ context.Context, ids []string, deleteFiles bool) error {
	if deleteFiles {
		f.record("deletefiles", ids)
	} else {
		f.record("delete", ids)
	}
	return nil
}

func (f *fakeClient) AddTags(_ context.Context, ids []string, tags []string) error {
	f.record("tag", ids)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if !slices.Contains(ids, f.records[i].ID) {
			continue
		}
		for _, tag := range tags {
			if !slices.Contains(f.records[i].Tags, tag) {
				f.records[i].Tags = append(f.records[i].Tags, tag)
			}
		}
	}
	return nil
}

func (f *fakeClient) snapshotCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

type fakeProvider map[string]torrent.Client

func (p fakeProvider) Get(_ context.Context, name string) (torrent.Client, error) {
	if c, ok := p[name]; ok {
		return c, nil
	}
	return nil, errors.New("client not found")
}

type fakeWatched struct {
	files []string
	err   error
}

func (f *fakeWatched) Watched(context.Context, []string) ([]string, error) {
	return f.files, f.err
}

type notification struct {
	title   string
	message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{title: title, message: message})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}
