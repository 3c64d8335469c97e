// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transmission implements the download client gateway on top of the
// Transmission RPC protocol.
package transmission

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autoclear/internal/buildinfo"
	"github.com/autobrr/autoclear/internal/domain"
	"github.com/autobrr/autoclear/internal/torrent"
)

const (
	sessionHeader  = "X-Transmission-Session-Id"
	defaultRPCPath = "/transmission/rpc"
	defaultTimeout = 60 * time.Second
)

var errSessionConflict = errors.New("transmission session id expired")

type Client struct {
	name     string
	endpoint string
	username string
	password string
	http     *http.Client

	sessionMu sync.RWMutex
	sessionID string
}

// NewClient connects to the Transmission daemon described by cfg and
// verifies the session.
func NewClient(ctx context.Context, cfg domain.DownloaderConfig) (*Client, error) {
	endpoint, err := rpcEndpoint(cfg.Host)
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // user opt-in
	}

	c := &Client{
		name:     cfg.Name,
		endpoint: endpoint,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout, Transport: transport},
	}

	var session struct {
		Version    string `json:"version"`
		RPCVersion int    `json:"rpc-version"`
	}
	if err := c.call(ctx, "session-get", map[string]any{"fields": []string{"version", "rpc-version"}}, &session); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to Transmission %s", cfg.Name)
	}

	log.Debug().
		Str("downloader", cfg.Name).
		Str("host", endpoint).
		Str("version", session.Version).
		Int("rpcVersion", session.RPCVersion).
		Msg("Transmission client created successfully")

	return c, nil
}

func rpcEndpoint(host string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(host))
	if err != nil || u.Host == "" {
		return "", errors.Errorf("invalid transmission host %q", host)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultRPCPath
	}
	return u.String(), nil
}

func (c *Client) Name() string { return c.name }
func (c *Client) Type() string { return domain.DownloaderTransmission }

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// call performs one RPC. A 409 answer carries a fresh session id and the
// request is repeated once with it.
func (c *Client) call(ctx context.Context, method string, args any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return errors.Wrap(err, "could not encode request")
	}

	var resp rpcResponse
	err = retry.Do(
		func() error {
			return c.post(ctx, body, &resp)
		},
		retry.Attempts(2),
		retry.Delay(0),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errSessionConflict) }),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return errors.Wrapf(err, "transmission %s", method)
	}

	if resp.Result != "success" {
		return errors.Errorf("transmission %s: %s", method, resp.Result)
	}

	if out == nil || len(resp.Arguments) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(resp.Arguments, out), "could not decode %s response", method)
}

func (c *Client) post(ctx context.Context, body []byte, out *rpcResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	c.sessionMu.RLock()
	if c.sessionID != "" {
		req.Header.Set(sessionHeader, c.sessionID)
	}
	c.sessionMu.RUnlock()

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusConflict:
		c.sessionMu.Lock()
		c.sessionID = res.Header.Get(sessionHeader)
		c.sessionMu.Unlock()
		_, _ = io.Copy(io.Discard, res.Body)
		return errSessionConflict
	case http.StatusUnauthorized:
		return errors.New("unauthorized")
	case http.StatusOK:
	default:
		return errors.Errorf("unexpected status %d", res.StatusCode)
	}

	return errors.Wrap(json.NewDecoder(res.Body).Decode(out), "could not decode response")
}

var torrentFields = []string{
	"hashString", "name", "totalSize", "doneDate", "addedDate", "uploadRatio",
	"downloadDir", "trackers", "errorString", "status", "labels",
}

// Torrents lists torrents carrying one of tags, matched against labels.
func (c *Client) Torrents(ctx context.Context, tags []string) ([]torrent.Record, error) {
	var result struct {
		Torrents []rpcTorrent `json:"torrents"`
	}
	if err := c.call(ctx, "torrent-get", map[string]any{"fields": torrentFields}, &result); err != nil {
		return nil, err
	}

	records := make([]torrent.Record, 0, len(result.Torrents))
	for _, t := range result.Torrents {
		if !torrent.HasAnyTag(t.Labels, tags) {
			continue
		}
		records = append(records, t.toRecord())
	}
	return records, nil
}

func (c *Client) Stop(ctx context.Context, ids []string) error {
	return c.call(ctx, "torrent-stop", map[string]any{"ids": ids}, nil)
}

func (c *Client) Delete(ctx context.Context, ids []string, deleteFiles bool) error {
	return c.call(ctx, "torrent-remove", map[string]any{
		"ids":               ids,
		"delete-local-data": deleteFiles,
	}, nil)
}

// AddTags merges tags into the labels of each torrent. Setting labels
// replaces the whole list, so the current labels are read first.
func (c *Client) AddTags(ctx context.Context, ids []string, tags []string) error {
	var result struct {
		Torrents []struct {
			HashString string   `json:"hashString"`
			Labels     []string `json:"labels"`
		} `json:"torrents"`
	}
	if err := c.call(ctx, "torrent-get", map[string]any{
		"ids":    ids,
		"fields": []string{"hashString", "labels"},
	}, &result); err != nil {
		return err
	}

	for _, t := range result.Torrents {
		merged, changed := mergeLabels(t.Labels, tags)
		if !changed {
			continue
		}
		if err := c.call(ctx, "torrent-set", map[string]any{
			"ids":    []string{t.HashString},
			"labels": merged,
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

func mergeLabels(existing, add []string) ([]string, bool) {
	merged := append([]string{}, existing...)
	changed := false
	for _, tag := range add {
		if torrent.HasAnyTag(merged, []string{tag}) {
			continue
		}
		merged = append(merged, tag)
		changed = true
	}
	return merged, changed
}
