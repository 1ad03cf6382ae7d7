package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, routes map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		data, ok := routes[r.URL.Path]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_StorageRouters(t *testing.T) {
	srv := newTestServer(t, map[string]any{
		"/storagerouters": []map[string]any{
			{"guid": "sr1", "name": "node1", "ip": "10.0.0.1", "machine_id": "n1", "node_type": "MASTER",
				"domains": []map[string]any{{"domain_guid": "d1", "backup": false}}},
			{"guid": "sr2", "name": "node2", "ip": "10.0.0.2", "machine_id": "n2", "node_type": "EXTRA"},
		},
	})
	c := NewClient(HTTPConfig{BaseURL: srv.URL, Token: "tok"})

	srs, err := c.StorageRouters(context.Background())
	require.NoError(t, err)
	require.Len(t, srs, 2)
	assert.True(t, srs[0].IsMaster())
	assert.False(t, srs[1].IsMaster())
	assert.Equal(t, "d1", srs[0].Domains[0].DomainGUID)

	sr, err := LocalStorageRouter(context.Background(), c, "n2")
	require.NoError(t, err)
	assert.Equal(t, "sr2", sr.GUID)

	_, err = LocalStorageRouter(context.Background(), c, "n9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_AlbaBackends_Policies(t *testing.T) {
	srv := newTestServer(t, map[string]any{
		"/alba/backends": []map[string]any{{
			"guid": "b1", "name": "backend-1", "scaling": "LOCAL",
			"presets": []map[string]any{
				{"name": "default", "in_use": true, "is_available": true, "policies": [][]int{{1, 2, 1, 3}, {2, 2, 3, 4}}},
			},
			"osds": []map[string]any{{"osd_id": "o1", "ips": []string{"10.0.0.1"}, "status": "ok", "alba_backend_guid": "b1"}},
		}},
	})
	c := NewClient(HTTPConfig{BaseURL: srv.URL, Token: "tok"})

	backends, err := c.AlbaBackends(context.Background())
	require.NoError(t, err)
	require.Len(t, backends, 1)
	b := backends[0]
	assert.True(t, b.IsLocal())
	assert.True(t, b.AvailableForVPool())
	require.Len(t, b.Presets[0].Policies, 2)
	assert.Equal(t, Policy{K: 1, M: 2}, b.Presets[0].Policies[0])
	assert.Equal(t, "2,2", b.Presets[0].Policies[1].Prefix())
}

func TestPolicy_UnmarshalErrors(t *testing.T) {
	var p Policy
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &p))
	assert.Error(t, json.Unmarshal([]byte(`"x"`), &p))
}

func TestClient_PresetAvailable(t *testing.T) {
	srv := newTestServer(t, map[string]any{
		"/alba/backends/b1/presets/default": map[string]any{"is_available": true},
	})
	c := NewClient(HTTPConfig{BaseURL: srv.URL, Token: "tok"})

	ok, err := c.PresetAvailable(context.Background(), "b1", "default")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.PresetAvailable(context.Background(), "b1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_NSMLoad(t *testing.T) {
	srv := newTestServer(t, map[string]any{
		"/alba/backends/b1/nsm_clusters/b1-nsm_0/load": map[string]any{"load": 42.5},
	})
	c := NewClient(HTTPConfig{BaseURL: srv.URL, Token: "tok"})
	load, err := c.NSMLoad(context.Background(), "b1", "b1-nsm_0")
	require.NoError(t, err)
	assert.InDelta(t, 42.5, load, 0.001)
}

func TestClient_APIErrorAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(HTTPConfig{BaseURL: srv.URL, RetryMax: 1})
	_, err := c.VPools(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, apiErr.IsRetryable())
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_MissingEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"other": 1}`))
	}))
	defer srv.Close()
	c := NewClient(HTTPConfig{BaseURL: srv.URL})
	_, err := c.Domains(context.Background())
	assert.ErrorContains(t, err, "missing data")
}

func TestClient_ConnectionError(t *testing.T) {
	c := NewClient(HTTPConfig{BaseURL: "http://127.0.0.1:1", RetryMax: 1})
	_, err := c.Domains(context.Background())
	var re *RetryableError
	assert.ErrorAs(t, err, &re)
}

func TestAPIError_Retryable(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 503}).IsRetryable())
	assert.True(t, (&APIError{StatusCode: 429}).IsRetryable())
	assert.False(t, (&APIError{StatusCode: 404}).IsRetryable())
}

// ---------------------------------------------------------------------------
// RabbitMQ
// ---------------------------------------------------------------------------

func TestRabbitMQ_Partitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ovs", user)
		assert.Equal(t, "pw", pass)
		switch r.URL.Path {
		case "/api/nodes":
			w.Write([]byte(`[
				{"name": "rabbit@node1", "running": true, "partitions": ["rabbit@node2"]},
				{"name": "rabbit@node2", "running": true, "partitions": []}
			]`))
		case "/api/overview":
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewRabbitMQ(HTTPConfig{BaseURL: srv.URL, User: "ovs", Password: "pw"})
	parts, err := r.Partitions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"rabbit@node1": {"rabbit@node2"}}, parts)
	assert.NoError(t, r.Overview(context.Background()))
}
