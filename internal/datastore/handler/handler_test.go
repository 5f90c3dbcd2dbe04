package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credrep/internal/datastore/service"
	"credrep/internal/datastore/store"
	"credrep/pkg/testutil"
)

const writer = "0x00000000000000000000000000000000000000d1"

func newRouter(t *testing.T, s service.Store) http.Handler {
	t.Helper()
	svc, err := service.New(s)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	New(svc, logger).Register(r, testutil.HeaderAuth)
	return r
}

func put(t *testing.T, router http.Handler, key string, body any, caller string) int {
	t.Helper()
	req := testutil.NewJSONRequest(t, http.MethodPut, "/data/"+key, body)
	if caller != "" {
		req.Header.Set(testutil.HeaderCaller, caller)
	}
	return testutil.DoRequest(router, req).Code
}

func TestSetAndGet(t *testing.T) {
	router := newRouter(t, store.NewInMemoryStore())

	testutil.Given(t, "an unknown key", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/data/missing"))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[DataResponse](t, rr)
		assert.Empty(t, resp.Value)
	})

	testutil.When(t, "an authenticated caller writes a nested key", func(t *testing.T) {
		code := put(t, router, "ui/theme", SetDataRequest{Value: []byte("dark")}, writer)
		assert.Equal(t, http.StatusNoContent, code)

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/data/ui/theme"))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[DataResponse](t, rr)
		assert.Equal(t, "ui/theme", resp.Key)
		assert.Equal(t, []byte("dark"), resp.Value)
	})

	testutil.Then(t, "anonymous writes are rejected", func(t *testing.T) {
		code := put(t, router, "ui/theme", SetDataRequest{Value: []byte("light")}, "")
		assert.Equal(t, http.StatusUnauthorized, code)
	})
}

func TestSetValidation(t *testing.T) {
	router := newRouter(t, store.NewInMemoryStore())

	assert.Equal(t, http.StatusBadRequest, put(t, router, "k", map[string]any{}, writer))
	assert.Equal(t, http.StatusBadRequest, put(t, router, "k", map[string]string{"value": "%%%"}, writer))
	assert.Equal(t, http.StatusBadRequest, put(t, router, strings.Repeat("k", service.MaxKeyLength+1), SetDataRequest{Value: []byte("x")}, writer))
	assert.Equal(t, http.StatusBadRequest, put(t, router, "big", SetDataRequest{Value: make([]byte, service.MaxValueLength+1)}, writer))
}

func TestStatusFollowsStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	router := newRouter(t, store.NewRedisStore(client))

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/datastore/status"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "available", true)

	mr.Close()
	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/datastore/status"))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
}
