// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package plex reads fully watched library items and their file paths from a
// Plex Media Server.
package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autoclear/internal/buildinfo"
	"github.com/autobrr/autoclear/internal/domain"
)

var ErrSectionNotFound = errors.New("plex library section not found")

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type Client struct {
	name    string
	baseURL string
	token   string
	http    HTTPDoer

	retryDelay time.Duration
}

func NewClient(cfg domain.MediaServerConfig, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.Host, "/"),
		token:      cfg.Token,
		http:       doer,
		retryDelay: 500 * time.Millisecond,
	}
}

func (c *Client) Name() string { return c.name }

type statusError struct {
	code int
	path string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("plex: unexpected status %d for %s", e.code, e.path)
}

// retryable reports whether err is a network error or a server side failure.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return retry.Do(
		func() error { return c.getOnce(ctx, path, out) },
		retry.Attempts(3),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("path", path).Msg("plex: retrying request")
		}),
	)
}

func (c *Client) getOnce(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Product", "autoclear")
	req.Header.Set("X-Plex-Version", buildinfo.Version)
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return &statusError{code: res.StatusCode, path: path}
	}

	var envelope struct {
		MediaContainer json.RawMessage `json:"MediaContainer"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return errors.Wrapf(json.Unmarshal(envelope.MediaContainer, out), "decode %s container", path)
}

type Section struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

func (c *Client) Sections(ctx context.Context) ([]Section, error) {
	var container struct {
		Directory []Section `json:"Directory"`
	}
	if err := c.get(ctx, "/library/sections", &container); err != nil {
		return nil, err
	}
	return container.Directory, nil
}

// Section returns the library section with the given title.
func (c *Client) Section(ctx context.Context, title string) (Section, error) {
	sections, err := c.Sections(ctx)
	if err != nil {
		return Section{}, err
	}
	for _, s := range sections {
		if strings.EqualFold(strings.TrimSpace(s.Title), strings.TrimSpace(title)) {
			return s, nil
		}
	}
	return Section{}, errors.Wrapf(ErrSectionNotFound, "%q", title)
}

type part struct {
	File string `json:"file"`
}

type media struct {
	Part []part `json:"Part"`
}

type metadata struct {
	RatingKey       string  `json:"ratingKey"`
	Title           string  `json:"title"`
	Type            string  `json:"type"`
	ViewCount       int     `json:"viewCount"`
	LeafCount       int     `json:"leafCount"`
	ViewedLeafCount int     `json:"viewedLeafCount"`
	Media           []media `json:"Media"`
}

func (m metadata) files() []string {
	var out []string
	for _, md := range m.Media {
		for _, p := range md.Part {
			if p.File != "" {
				out = append(out, p.File)
			}
		}
	}
	return out
}

func (c *Client) items(ctx context.Context, path string) ([]metadata, error) {
	var container struct {
		Metadata []metadata `json:"Metadata"`
	}
	if err := c.get(ctx, path, &container); err != nil {
		return nil, err
	}
	return container.Metadata, nil
}

// Watched returns the file paths of fully watched items in the named
// sections. A show counts once every episode is watched, in which case all
// episode files are returned. Movies count once viewed. Sections that do not
// exist are skipped with a warning.
func (c *Client) Watched(ctx context.Context, sectionTitles []string) ([]string, error) {
	sections, err := c.Sections(ctx)
	if err != nil {
		return nil, err
	}

	byTitle := make(map[string]Section, len(sections))
	for _, s := range sections {
		byTitle[strings.ToLower(strings.TrimSpace(s.Title))] = s
	}

	var files []string
	for _, title := range sectionTitles {
		section, ok := byTitle[strings.ToLower(strings.TrimSpace(title))]
		if !ok {
			log.Warn().Str("mediaServer", c.name).Str("section", title).Msg("plex: library section not found")
			continue
		}

		sectionFiles, err := c.watchedInSection(ctx, section)
		if err != nil {
			return nil, errors.Wrapf(err, "section %q", section.Title)
		}
		log.Debug().Str("mediaServer", c.name).Str("section", section.Title).Int("files", len(sectionFiles)).Msg("plex: collected watched files")
		files = append(files, sectionFiles...)
	}

	return files, nil
}

func (c *Client) watchedInSection(ctx context.Context, section Section) ([]string, error) {
	items, err := c.items(ctx, "/library/sections/"+url.PathEscape(section.Key)+"/all")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, item := range items {
		switch item.Type {
		case "show":
			if item.LeafCount == 0 || item.ViewedLeafCount < item.LeafCount {
				continue
			}
			episodes, err := c.items(ctx, "/library/metadata/"+url.PathEscape(item.RatingKey)+"/allLeaves")
			if err != nil {
				return nil, err
			}
			for _, ep := range episodes {
				files = append(files, ep.files()...)
			}
		case "movie", "episode":
			if item.ViewCount > 0 {
				files = append(files, item.files()...)
			}
		}
	}
	return files, nil
}
