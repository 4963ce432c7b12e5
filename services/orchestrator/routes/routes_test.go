// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/caseforge-ai/caseforge/pkg/extensions"
	"github.com/caseforge-ai/caseforge/services/jobstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRouter wires the route table with a router that has no backing
// LLM dependencies. Handlers that need them fail at request time, not at
// registration time, so the route table itself can be verified in
// isolation. The Weaviate client is never dialed during registration.
func newTestRouter(t *testing.T, client *weaviate.Client) *gin.Engine {
	t.Helper()

	jobs, err := jobstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { jobs.Close() })

	router := gin.New()
	SetupRoutes(router, client, nil, nil, nil, jobs, nil, extensions.DefaultOptions())
	return router
}

func newTestWeaviateClient(t *testing.T) *weaviate.Client {
	t.Helper()

	client, err := weaviate.NewClient(weaviate.Config{Host: "localhost:8080", Scheme: "http"})
	require.NoError(t, err)
	return client
}

func registeredRoutes(router *gin.Engine) map[string]bool {
	registered := make(map[string]bool)
	for _, route := range router.Routes() {
		registered[route.Method+" "+route.Path] = true
	}
	return registered
}

func TestSetupRoutes_RegistersAllRoutes(t *testing.T) {
	router := newTestRouter(t, newTestWeaviateClient(t))

	expected := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/metrics"},
		{http.MethodPost, "/v1/evidence"},
		{http.MethodDelete, "/v1/evidence"},
		{http.MethodPost, "/v1/generate"},
		{http.MethodGet, "/v1/jobs/:jobId"},
		{http.MethodPost, "/v1/plans"},
		{http.MethodGet, "/v1/plans/:planId"},
		{http.MethodPut, "/v1/plans/:planId"},
		{http.MethodPost, "/v1/plans/:planId/approve"},
		{http.MethodPost, "/v1/plans/run"},
		{http.MethodGet, "/v1/projects/:projectId/items"},
		{http.MethodDelete, "/v1/items/:itemId"},
	}

	registered := registeredRoutes(router)
	for _, want := range expected {
		key := want.method + " " + want.path
		assert.True(t, registered[key], "route not registered: %s", key)
	}
	assert.Len(t, router.Routes(), len(expected), "unexpected extra routes")
}

// Without a Weaviate client the evidence and item routes must not be
// registered; jobs and plans remain available.
func TestSetupRoutes_LightweightModeOmitsIndexRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	registered := registeredRoutes(router)
	assert.True(t, registered["POST /v1/generate"])
	assert.True(t, registered["POST /v1/plans"])
	assert.False(t, registered["POST /v1/evidence"])
	assert.False(t, registered["DELETE /v1/evidence"])
	assert.False(t, registered["GET /v1/projects/:projectId/items"])
	assert.False(t, registered["DELETE /v1/items/:itemId"])

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/evidence", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// The default auth provider accepts any request, so /v1 routes are
// reachable without an Authorization header in local deployments.
func TestSetupRoutes_V1ReachableWithoutToken(t *testing.T) {
	router := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nonexistent", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
