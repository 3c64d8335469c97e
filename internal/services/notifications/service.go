// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications delivers pass summaries to shoutrrr targets.
package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog"
)

const (
	defaultQueueSize = 100
	defaultWorkers   = 2

	maxMessageLength = 2000
	maxTitleLength   = 80
)

// Notifier accepts fire-and-forget notifications.
type Notifier interface {
	Notify(title, message string)
}

type event struct {
	title   string
	message string
}

type sendFunc func(url, title, message string) error

type Service struct {
	logger    zerolog.Logger
	queue     chan event
	pending   sync.WaitGroup
	startOnce sync.Once

	mu   sync.RWMutex
	urls []string

	send sendFunc
}

func NewService(urls []string, logger zerolog.Logger) *Service {
	s := &Service{
		logger: logger,
		queue:  make(chan event, defaultQueueSize),
		send:   send,
	}
	s.SetURLs(urls)
	return s
}

// ValidateURL reports whether shoutrrr understands rawURL.
func ValidateURL(rawURL string) error {
	_, err := router.New(nil, rawURL)
	return err
}

// SetURLs replaces the delivery targets. Blank entries are ignored.
func (s *Service) SetURLs(urls []string) {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}

	s.mu.Lock()
	s.urls = cleaned
	s.mu.Unlock()
}

func (s *Service) targets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.urls...)
}

func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}

	s.startOnce.Do(func() {
		for range defaultWorkers {
			go s.worker(ctx)
		}
	})
}

func (s *Service) Notify(title, message string) {
	if s == nil || strings.TrimSpace(message) == "" {
		return
	}

	s.pending.Add(1)
	select {
	case s.queue <- event{title: title, message: message}:
	default:
		s.pending.Done()
		s.logger.Warn().Str("title", title).Msg("notifications: queue full, dropping event")
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			s.dispatch(ev)
			s.pending.Done()
		}
	}
}

// Flush waits until every queued notification has been dispatched or ctx is
// done. The service must have been started.
func (s *Service) Flush(ctx context.Context) error {
	if s == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) dispatch(ev event) {
	for _, url := range s.targets() {
		if err := s.send(url, ev.title, ev.message); err != nil {
			s.logger.Error().Err(err).Str("title", ev.title).Msg("notifications: send failed")
		}
	}
}

func send(url, title, message string) error {
	sender, err := router.New(nil, url)
	if err != nil {
		return err
	}

	params := types.Params{}
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		params.SetTitle(truncateMessage(trimmed, maxTitleLength))
	}

	results := sender.Send(truncateMessage(message, maxMessageLength), &params)
	var errs []error
	for _, sendErr := range results {
		if sendErr != nil {
			errs = append(errs, sendErr)
		}
	}

	return errors.Join(errs...)
}

func truncateMessage(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	if limit <= 0 || utf8.RuneCountInString(trimmed) <= limit {
		return trimmed
	}
	runes := []rune(trimmed)
	if limit == 1 {
		return string(runes[:1])
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
