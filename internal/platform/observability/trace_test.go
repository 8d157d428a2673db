package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewatch/storefront/internal/platform/requestctx"
)

func serveTraced(t *testing.T, header http.Header) (requestctx.TraceInfo, *httptest.ResponseRecorder) {
	t.Helper()
	var seen requestctx.TraceInfo
	handler := TraceMiddleware("tidewatch-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := requestctx.Trace(r.Context())
		require.True(t, ok)
		seen = info
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	for key, values := range header {
		req.Header[key] = values
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return seen, rec
}

func TestTraceMiddlewareContinuesCloudTrace(t *testing.T) {
	header := http.Header{}
	header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")

	info, rec := serveTraced(t, header)
	assert.Equal(t, "105445aa7843bc8bf206b12000100000", info.TraceID)
	assert.Equal(t, "tidewatch-prod", info.ProjectID)
	assert.Contains(t, rec.Header().Get(cloudTraceHeader), "105445aa7843bc8bf206b12000100000/")
}

func TestTraceMiddlewarePrefersTraceparent(t *testing.T) {
	header := http.Header{}
	header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")

	info, _ := serveTraced(t, header)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", info.TraceID)
	assert.True(t, info.Sampled)
}

func TestParseCloudTraceContext(t *testing.T) {
	cases := []struct {
		header  string
		ok      bool
		sampled bool
	}{
		{header: "105445aa7843bc8bf206b12000100000/1;o=1", ok: true, sampled: true},
		{header: "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7;o=0", ok: true},
		{header: "105445aa7843bc8bf206b12000100000/18446744073709551615", ok: true},
		{header: "105445aa7843bc8bf206b12000100000", ok: false},
		{header: "not-a-trace/1;o=1", ok: false},
		{header: "105445aa7843bc8bf206b12000100000/0;o=1", ok: false},
		{header: "", ok: false},
	}
	for _, tc := range cases {
		sc, ok := parseCloudTraceContext(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		if ok {
			assert.Equal(t, tc.sampled, sc.IsSampled(), tc.header)
			assert.True(t, sc.IsRemote(), tc.header)
		}
	}
}

func TestCleanLogValueStripsControlCharacters(t *testing.T) {
	assert.Equal(t, "user-1forged", cleanLogValue("user-1\nforged", 64))
	assert.Equal(t, "abc", cleanLogValue("abcdef", 3))
}
