// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type countingTrigger struct {
	removal  atomic.Int32
	allClear atomic.Int32
}

func (c *countingTrigger) TriggerRemoval()  { c.removal.Add(1) }
func (c *countingTrigger) TriggerAllClear() { c.allClear.Add(1) }

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestNewMetricsServer(t *testing.T) {
	t.Parallel()

	manager := NewManager()

	tests := []struct {
		name             string
		host             string
		port             int
		basicAuthUsers   string
		expectedAddr     string
		expectedAuthSize int
	}{
		{name: "default config", host: "127.0.0.1", port: 9075, expectedAddr: "127.0.0.1:9075"},
		{name: "multiple users", host: "0.0.0.0", port: 8080, basicAuthUsers: "user1:hash1,user2:hash2", expectedAddr: "0.0.0.0:8080", expectedAuthSize: 2},
		{name: "malformed entry skipped", host: "localhost", port: 9090, basicAuthUsers: "user1:hash1,invalid,:nouser", expectedAddr: "localhost:9090", expectedAuthSize: 1},
		{name: "whitespace trimmed", host: "localhost", port: 9090, basicAuthUsers: " user1:hash1 , user2:hash2 ", expectedAddr: "localhost:9090", expectedAuthSize: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := NewMetricsServer(manager, tt.host, tt.port, tt.basicAuthUsers, nil)

			require.NotNil(t, server)
			assert.Equal(t, tt.expectedAddr, server.server.Addr)
			assert.Len(t, server.basicAuthUsers, tt.expectedAuthSize)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := NewMetricsServer(NewManager(), "localhost", 9075, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_")
}

func TestMetricsEndpointWithBasicAuth(t *testing.T) {
	t.Parallel()

	server := NewMetricsServer(NewManager(), "localhost", 9075, "admin:"+hashPassword(t, "secret"), nil)

	tests := []struct {
		name     string
		user     string
		pass     string
		setAuth  bool
		wantCode int
	}{
		{name: "without credentials", wantCode: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "wrong", setAuth: true, wantCode: http.StatusUnauthorized},
		{name: "unknown user", user: "nobody", pass: "secret", setAuth: true, wantCode: http.StatusUnauthorized},
		{name: "correct credentials", user: "admin", pass: "secret", setAuth: true, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			server.server.Handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRunEndpoints(t *testing.T) {
	t.Parallel()

	trigger := &countingTrigger{}
	server := NewMetricsServer(NewManager(), "localhost", 9075, "admin:"+hashPassword(t, "secret"), trigger)

	serve := func(method, path string, auth bool) int {
		req := httptest.NewRequest(method, path, nil)
		if auth {
			req.SetBasicAuth("admin", "secret")
		}
		rec := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for _, path := range []string{"/api/run/removal", "/api/run/all-clear", "/api/run/all-clear"} {
		assert.Equal(t, http.StatusAccepted, serve(http.MethodPost, path, true))
	}
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodPost, "/api/run/all-clear", false))

	assert.Equal(t, int32(1), trigger.removal.Load())
	assert.Equal(t, int32(2), trigger.allClear.Load())

	assert.Equal(t, http.StatusMethodNotAllowed, serve(http.MethodGet, "/api/run/removal", true))
}

func TestRunEndpointsRequireBasicAuthUsers(t *testing.T) {
	t.Parallel()

	trigger := &countingTrigger{}
	server := NewMetricsServer(NewManager(), "0.0.0.0", 9075, "", trigger)

	for _, path := range []string{"/api/run/removal", "/api/run/all-clear"} {
		rec := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Zero(t, trigger.removal.Load())
	assert.Zero(t, trigger.allClear.Load())

	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunEndpointsAbsentWithoutTrigger(t *testing.T) {
	t.Parallel()

	server := NewMetricsServer(NewManager(), "localhost", 9075, "admin:"+hashPassword(t, "secret"), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/run/removal", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
