// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/autoclear/internal/domain"
)

func TestParseSizeRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    *SizeRange
		wantErr bool
	}{
		{name: "empty", input: "", want: nil},
		{name: "band", input: "1-5", want: &SizeRange{Min: 1 << 30, Max: 5 << 30}},
		{name: "spaces", input: " 2 - 3 ", want: &SizeRange{Min: 2 << 30, Max: 3 << 30}},
		{name: "single value", input: "4", want: &SizeRange{Min: 4 << 30, Max: 4 << 30}},
		{name: "fractional", input: "0.5-1", want: &SizeRange{Min: 1 << 29, Max: 1 << 30}},
		{name: "not a number", input: "a-b", wantErr: true},
		{name: "reversed", input: "5-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseSizeRange(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidSizeRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAction(t *testing.T) {
	t.Parallel()

	tests := map[string]Action{
		"pause":            ActionPause,
		"Delete":           ActionDelete,
		"deletefile":       ActionDeleteWithFiles,
		"delete_with_file": ActionDeleteWithFiles,
	}
	for in, want := range tests {
		got, err := ParseAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAction("nuke")
	require.ErrorIs(t, err, ErrInvalidAction)

	assert.Equal(t, "paused", ActionPause.Verb())
	assert.Equal(t, "deleted", ActionDelete.Verb())
	assert.Equal(t, "deleted with files", ActionDeleteWithFiles.Verb())
}

func TestNew(t *testing.T) {
	t.Parallel()

	ratio := 1.5
	c, err := New(domain.RemoveConfig{
		Action:          "delete",
		SameData:        true,
		ManagedOnly:     true,
		ManagedTag:      "MOVIEPILOT",
		Size:            "1-5",
		Ratio:           &ratio,
		Tags:            []string{"wait_to_delete", " ", "wait_to_delete", "old"},
		TrackerKeywords: "example",
		States:          []string{"pausedUP", ""},
	})
	require.NoError(t, err)

	assert.Equal(t, ActionDelete, c.Action)
	assert.True(t, c.SameData)
	require.NotNil(t, c.Ratio)
	assert.InDelta(t, 1.5, *c.Ratio, 0.0001)
	assert.Nil(t, c.MinSeedHours)
	assert.Equal(t, []string{"wait_to_delete", "old", "MOVIEPILOT"}, c.Tags)
	require.NotNil(t, c.TrackerKeyword)
	assert.True(t, c.TrackerKeyword.MatchString("https://TRACKER.EXAMPLE.org/announce"))
	assert.Nil(t, c.PathKeyword)
	assert.Contains(t, c.States, "pausedUP")
	assert.Len(t, c.States, 1)
	assert.Nil(t, c.Categories)
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := New(domain.RemoveConfig{Action: "pause", PathKeywords: "("})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pathKeywords")

	_, err = New(domain.RemoveConfig{Action: "pause", Size: "big"})
	require.ErrorIs(t, err, ErrInvalidSizeRange)

	_, err = New(domain.RemoveConfig{Action: ""})
	require.ErrorIs(t, err, ErrInvalidAction)
}

func TestWithAction(t *testing.T) {
	t.Parallel()

	base, err := New(domain.RemoveConfig{Action: "pause", Tags: []string{"a", "b"}})
	require.NoError(t, err)

	derived := base.WithAction(ActionDeleteWithFiles, " wait_to_delete ")
	assert.Equal(t, ActionDeleteWithFiles, derived.Action)
	assert.Equal(t, []string{"wait_to_delete"}, derived.Tags)

	assert.Equal(t, ActionPause, base.Action)
	assert.Equal(t, []string{"a", "b"}, base.Tags)

	untouched := base.WithAction(ActionDelete, "")
	assert.Equal(t, []string{"a", "b"}, untouched.Tags)
}
