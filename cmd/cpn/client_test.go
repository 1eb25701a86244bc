package main

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
)

func TestClient_Do(t *testing.T) {
	var gotUser, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-ID")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"response": "hi"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 7, time.Second)
	var out struct {
		Response string `json:"response"`
	}
	err := c.Do(context.Background(), "POST", "/chat", map[string]string{"message": "hello"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "7", gotUser)
	assert.Equal(t, "/api/v1/chat", gotPath)
	assert.Equal(t, "hello", gotBody["message"])
	assert.Equal(t, "hi", out.Response)
}

func TestClient_DoError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"json error", `{"error":"commitment not found"}`, "commitment not found"},
		{"plain text", "bad gateway\n", "bad gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewClient(srv.URL, 1, time.Second).Do(context.Background(), "GET", "/commitments/9", nil, nil)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "err = %v", err)
			if apiErr.Status != http.StatusNotFound {
				t.Errorf("Status = %d, want %d", apiErr.Status, http.StatusNotFound)
			}
			if apiErr.Message != tt.want {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"a longer line of text", 10, "a longe..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
