package api

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGet(t *testing.T) {
	t.Run("Should send basic auth and accept header", func(t *testing.T) {
		var gotAuth, gotAccept string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotAccept = r.Header.Get("Accept")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "admin", "district", Options{})
		body, err := client.Get("api/system/info.json", nil)

		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(body))
		expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:district"))
		assert.Equal(t, expected, gotAuth)
		assert.Equal(t, "application/json", gotAccept)
	})

	t.Run("Should return RemoteAPIError with body preserved on non-2xx", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"status":"ERROR","message":"conflict"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "admin", "district", Options{})
		_, err := client.Get("api/organisationUnits.json", nil)

		require.Error(t, err)
		apiErr, ok := IsRemoteAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
		assert.Contains(t, apiErr.Body, "conflict")
	})

	t.Run("Should pass query params", func(t *testing.T) {
		var gotFields string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotFields = r.URL.Query().Get("fields")
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "admin", "district", Options{})
		_, err := client.Get("api/organisationUnits.json", map[string]string{"fields": "id,name"})

		require.NoError(t, err)
		assert.Equal(t, "id,name", gotFields)
	})
}

func TestClientPost(t *testing.T) {
	t.Run("Should post JSON and return status with body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"SUCCESS"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "admin", "district", Options{})
		code, body, err := client.Post("api/trackedEntityInstances", map[string]string{"orgUnit": "U1"})

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(body), "SUCCESS")
	})

	t.Run("Should surface error payload on failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"missing orgUnit"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "admin", "district", Options{})
		code, body, err := client.Post("api/enrollments", map[string]string{})

		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, string(body), "missing orgUnit")
	})
}

func TestGetOrgUnitName(t *testing.T) {
	t.Run("Should cache names and fall back to uid", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if r.URL.Path == "/api/organisationUnits/U1.json" {
				w.Write([]byte(`{"displayName":"Bo District"}`))
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(server.URL, "admin", "district", Options{})

		assert.Equal(t, "Bo District", client.GetOrgUnitName("U1"))
		assert.Equal(t, "Bo District", client.GetOrgUnitName("U1"))
		assert.Equal(t, 1, calls, "second lookup should hit the cache")

		assert.Equal(t, "missing", client.GetOrgUnitName("missing"))
	})
}

func TestLRUCache(t *testing.T) {
	t.Run("Should evict least recently used entry at capacity", func(t *testing.T) {
		cache := newLRUCache(2)
		cache.Put("a", "1")
		cache.Put("b", "2")

		// Touch "a" so "b" becomes the eviction candidate
		_, ok := cache.Get("a")
		require.True(t, ok)

		cache.Put("c", "3")

		_, ok = cache.Get("b")
		assert.False(t, ok)
		_, ok = cache.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 2, cache.Len())
	})
}
