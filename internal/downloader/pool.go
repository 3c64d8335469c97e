// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloader resolves configured download client names to connected
// torrent.Client handles.
package downloader

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autoclear/internal/domain"
	"github.com/autobrr/autoclear/internal/qbittorrent"
	"github.com/autobrr/autoclear/internal/torrent"
	"github.com/autobrr/autoclear/internal/transmission"
)

var (
	ErrClientNotFound  = errors.New("downloader not configured")
	ErrPoolClosed      = errors.New("downloader pool is closed")
	ErrUnsupportedType = errors.New("unsupported downloader type")
	ErrBackoff         = errors.New("downloader is in backoff period")
)

const (
	healthCheckInterval    = 30 * time.Second
	healthCheckTimeout     = 10 * time.Second
	minHealthCheckInterval = 20 * time.Second

	initialBackoff = 10 * time.Second
	maxBackoff     = 1 * time.Minute

	banInitialBackoff = 5 * time.Minute
	banMaxBackoff     = 1 * time.Hour
)

// Factory connects to one downloader.
type Factory func(ctx context.Context, cfg domain.DownloaderConfig) (torrent.Client, error)

type healthChecker interface {
	IsHealthy() bool
	HealthCheck(ctx context.Context) error
}

type failureInfo struct {
	nextRetry time.Time
	attempts  int
}

type entry struct {
	client    torrent.Client
	checkedAt time.Time
}

// Pool manages the downloader connections. Clients are created lazily on
// first use and kept until the pool is closed or their definition changes.
type Pool struct {
	mu             sync.RWMutex
	configs        map[string]domain.DownloaderConfig
	clients        map[string]*entry
	factories      map[string]Factory
	failureTracker map[string]*failureInfo
	closed         bool

	creationMu    sync.Mutex
	creationLocks map[string]*sync.Mutex

	healthTicker *time.Ticker
	stopHealth   chan struct{}
}

// NewPool creates a pool for the given downloader definitions with the
// qBittorrent and Transmission factories registered.
func NewPool(downloaders []domain.DownloaderConfig) *Pool {
	p := &Pool{
		configs:        make(map[string]domain.DownloaderConfig),
		clients:        make(map[string]*entry),
		failureTracker: make(map[string]*failureInfo),
		creationLocks:  make(map[string]*sync.Mutex),
		healthTicker:   time.NewTicker(healthCheckInterval),
		stopHealth:     make(chan struct{}),
		factories: map[string]Factory{
			domain.DownloaderQbittorrent: func(ctx context.Context, cfg domain.DownloaderConfig) (torrent.Client, error) {
				return qbittorrent.NewClient(ctx, cfg)
			},
			domain.DownloaderTransmission: func(ctx context.Context, cfg domain.DownloaderConfig) (torrent.Client, error) {
				return transmission.NewClient(ctx, cfg)
			},
		},
	}
	p.Update(downloaders)

	go p.healthCheckLoop()

	return p
}

func poolKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterFactory sets the factory used for downloaders of type typ.
func (p *Pool) RegisterFactory(typ string, f Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[strings.ToLower(typ)] = f
}

// Update replaces the downloader definitions. Connections whose definition
// changed or disappeared are dropped.
func (p *Pool) Update(downloaders []domain.DownloaderConfig) {
	next := make(map[string]domain.DownloaderConfig, len(downloaders))
	for _, d := range downloaders {
		next[poolKey(d.Name)] = d
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for key := range p.clients {
		if prev, ok := p.configs[key]; !ok || !reflect.DeepEqual(prev, next[key]) {
			delete(p.clients, key)
			delete(p.failureTracker, key)
			log.Debug().Str("downloader", key).Msg("Dropped downloader connection after config change")
		}
	}
	p.configs = next
}

func (p *Pool) getCreationLock(key string) *sync.Mutex {
	p.creationMu.Lock()
	defer p.creationMu.Unlock()

	if lock, exists := p.creationLocks[key]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	p.creationLocks[key] = lock
	return lock
}

// Get returns a connected client for the downloader with the given name.
func (p *Pool) Get(ctx context.Context, name string) (torrent.Client, error) {
	key := poolKey(name)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	e, exists := p.clients[key]
	p.mu.RUnlock()

	if exists {
		hc, ok := e.client.(healthChecker)
		if !ok || hc.IsHealthy() {
			return e.client, nil
		}
		if err := hc.HealthCheck(ctx); err != nil {
			p.trackFailure(key, err)
			return nil, errors.Wrap(err, "client healthcheck failed")
		}
		return e.client, nil
	}

	return p.create(ctx, key)
}

func (p *Pool) create(ctx context.Context, key string) (torrent.Client, error) {
	lock := p.getCreationLock(key)
	lock.Lock()
	defer lock.Unlock()

	p.mu.RLock()
	if e, exists := p.clients[key]; exists {
		p.mu.RUnlock()
		return e.client, nil
	}
	cfg, configured := p.configs[key]
	inBackoff := p.isInBackoffLocked(key)
	factory := p.factories[strings.ToLower(cfg.Type)]
	p.mu.RUnlock()

	if !configured {
		return nil, errors.Wrapf(ErrClientNotFound, "%q", key)
	}
	if inBackoff {
		return nil, errors.Wrapf(ErrBackoff, "%q", cfg.Name)
	}
	if factory == nil {
		return nil, errors.Wrapf(ErrUnsupportedType, "%q", cfg.Type)
	}

	client, err := factory(ctx, cfg)
	if err != nil {
		p.trackFailure(key, err)
		return nil, errors.Wrap(err, "failed to create client")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	p.clients[key] = &entry{client: client, checkedAt: time.Now()}
	delete(p.failureTracker, key)

	log.Info().Str("downloader", cfg.Name).Str("type", cfg.Type).Msg("Connected to downloader")
	return client, nil
}

func (p *Pool) healthCheckLoop() {
	for {
		select {
		case <-p.healthTicker.C:
			p.performHealthChecks()
		case <-p.stopHealth:
			return
		}
	}
}

func (p *Pool) performHealthChecks() {
	type target struct {
		key string
		hc  healthChecker
	}

	p.mu.Lock()
	var targets []target
	now := time.Now()
	for key, e := range p.clients {
		hc, ok := e.client.(healthChecker)
		if !ok || now.Sub(e.checkedAt) < minHealthCheckInterval || p.isInBackoffLocked(key) {
			continue
		}
		e.checkedAt = now
		targets = append(targets, target{key: key, hc: hc})
	}
	p.mu.Unlock()

	for _, t := range targets {
		go func(t target) {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()

			if err := t.hc.HealthCheck(ctx); err != nil {
				log.Warn().Err(err).Str("downloader", t.key).Msg("Health check failed")
				p.trackFailure(t.key, err)
				return
			}
			p.ResetFailureTracking(t.key)
		}(t)
	}
}

// Close drops all connections and stops the health checks.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.stopHealth)
	p.healthTicker.Stop()
	p.clients = make(map[string]*entry)
	p.failureTracker = make(map[string]*failureInfo)

	log.Info().Msg("Downloader pool closed")
	return nil
}

func (p *Pool) isInBackoffLocked(key string) bool {
	info, exists := p.failureTracker[key]
	if !exists {
		return false
	}
	return time.Now().Before(info.nextRetry)
}

// trackFailure records a failure and applies exponential backoff.
func (p *Pool) trackFailure(key string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, exists := p.failureTracker[key]
	if !exists {
		info = &failureInfo{}
		p.failureTracker[key] = info
	}
	info.attempts++

	var backoff time.Duration
	if isBanError(err) {
		backoff = calculateBackoff(info.attempts, banInitialBackoff, banMaxBackoff)
		log.Warn().Str("downloader", key).Int("attempts", info.attempts).Dur("backoffDuration", backoff).Msg("IP ban detected, applying extended backoff")
	} else {
		backoff = calculateBackoff(info.attempts, initialBackoff, maxBackoff)
		log.Debug().Str("downloader", key).Int("attempts", info.attempts).Dur("backoffDuration", backoff).Msg("Connection failure, applying backoff")
	}

	info.nextRetry = time.Now().Add(backoff)
}

func calculateBackoff(attempts int, initialDuration, maxDuration time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		return maxDuration
	}
	return min(time.Duration(1<<(attempts-1))*initialDuration, maxDuration)
}

// ResetFailureTracking clears the backoff state of a downloader.
func (p *Pool) ResetFailureTracking(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failureTracker, poolKey(name))
}

func isBanError(err error) bool {
	if err == nil {
		return false
	}

	s := strings.ToLower(err.Error())
	return strings.Contains(s, "banned") ||
		strings.Contains(s, "too many failed login attempts") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "403") ||
		strings.Contains(s, "forbidden")
}
