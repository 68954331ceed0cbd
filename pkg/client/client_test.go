package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensandbox/poolmgr/pkg/types"
)

func TestClient_ScaleOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scale-out", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))

		var req types.ScaleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.Blocks)

		_ = json.NewEncoder(w).Encode(types.ScaleResponse{Units: 4, Blocksize: 2})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL+"/", "key").ScaleOut(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, &types.ScaleResponse{Units: 4, Blocksize: 2}, resp)
}

func TestClient_StatusAndCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.IDsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch r.URL.Path {
		case "/status":
			out := types.StatusResponse{}
			for range req.IDs {
				out.Statuses = append(out.Statuses, types.StatusRunning)
			}
			_ = json.NewEncoder(w).Encode(out)
		case "/cancel":
			_ = json.NewEncoder(w).Encode(types.CancelResponse{Cancelled: make([]bool, len(req.IDs))})
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "")

	statuses, err := c.Status(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, []types.Status{types.StatusRunning, types.StatusRunning}, statuses)

	flags, err := c.Cancel(context.Background(), []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, flags)
}

func TestClient_TeardownError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"boom","step":"delete-network"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").Teardown(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "delete-network")
}

func TestClient_TeardownNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, "").Teardown(context.Background()))
}
