package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazakh-hub/internal/model"
	"kazakh-hub/internal/upload"
)

func TestRecordClient_CreateRecord(t *testing.T) {
	var got model.CreateRecordRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/codes", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"code":201,"message":"success","data":{"id":"rec-1","title":"main.py","language":"python"}}`))
	}))
	defer srv.Close()

	c := NewRecordClient(srv.URL+"/", "tok", time.Second)
	rec, err := c.CreateRecord(context.Background(), model.CreateRecordRequest{
		Title:          "main.py",
		Content:        "print(1)",
		Language:       "python",
		FolderID:       "folder-1",
		FolderPath:     "proj/main.py",
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "k1", got.IdempotencyKey)
	assert.Equal(t, "proj/main.py", got.FolderPath)
}

func TestRecordClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		isNetwork bool
		rejected  bool
	}{
		{"bad request is rejected", http.StatusBadRequest, false, true},
		{"unauthorized is rejected", http.StatusUnauthorized, false, true},
		{"service unavailable is network", http.StatusServiceUnavailable, true, false},
		{"bad gateway is network", http.StatusBadGateway, true, false},
		{"internal error is retryable", http.StatusInternalServerError, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"code":1,"message":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewRecordClient(srv.URL, "", time.Second).CreateRecord(context.Background(), model.CreateRecordRequest{Title: "a", Language: "c"})
			require.Error(t, err)
			assert.Equal(t, tt.isNetwork, upload.IsNetworkError(err))
			assert.Equal(t, tt.rejected, errors.Is(err, upload.ErrRejected))
		})
	}
}

func TestRecordClient_TransportFailureIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewRecordClient(url, "", time.Second).CreateRecord(context.Background(), model.CreateRecordRequest{Title: "a", Language: "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, upload.ErrNetwork)
}
