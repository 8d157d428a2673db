package di

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/require"

	"github.com/tidewatch/storefront/internal/handlers"
	"github.com/tidewatch/storefront/internal/platform/config"
	"github.com/tidewatch/storefront/internal/services"
)

type tokenTable map[string]*firebaseauth.Token

func (t tokenTable) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if token, ok := t[idToken]; ok {
		return token, nil
	}
	return nil, errors.New("unknown token")
}

type bucketStub struct {
	data   []byte
	err    error
	bucket string
	object string
}

func (b *bucketStub) ReadObject(_ context.Context, bucket, object string) ([]byte, error) {
	b.bucket, b.object = bucket, object
	return b.data, b.err
}

func memoryConfig() config.Config {
	return config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Port: "0"},
		Persistence: config.PersistenceConfig{Backend: config.BackendMemory},
		Firebase:    config.FirebaseConfig{ProjectID: "tidewatch-test"},
		Events:      config.EventsConfig{Backend: config.EventsNone},
		Credits:     config.CreditsConfig{SignupGrant: 10},
		RateLimits:  config.RateLimitConfig{OrdersPerMinute: 60, RFIsPerMinute: 60, Burst: 5},
		Idempotency: config.IdempotencyConfig{Header: "Idempotency-Key", TTL: time.Hour},
		Alerts:      config.AlertsConfig{ExpiryWindow: 7 * 24 * time.Hour},
	}
}

func newMemoryContainer(t *testing.T, cfg config.Config, opts ...Option) *Container {
	t.Helper()
	tokens := tokenTable{
		"user-token":  {UID: "user-1", Claims: map[string]any{}},
		"staff-token": {UID: "staff-1", Claims: map[string]any{"role": "staff"}},
	}
	opts = append([]Option{WithTokenVerifier(tokens), WithBuildInfo(services.BuildInfo{Version: "test"})}, opts...)
	c, err := NewContainer(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close(context.Background())) })
	return c
}

func serve(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestNewContainerWiresMemoryBackend(t *testing.T) {
	c := newMemoryContainer(t, memoryConfig())
	require.NotNil(t, c.Services.Orders)
	require.NotNil(t, c.Services.System)

	router := handlers.NewRouter(c.RouterOptions()...)

	rec := serve(t, router, http.MethodGet, "/api/v1/products", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, router, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, router, http.MethodGet, "/api/v1/credits/balance", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, router, http.MethodGet, "/api/v1/credits/balance", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var balance struct {
		Balance int `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.Equal(t, 10, balance.Balance)
}

func TestAdminRoutesRequireStaff(t *testing.T) {
	c := newMemoryContainer(t, memoryConfig())
	router := handlers.NewRouter(c.RouterOptions()...)

	rec := serve(t, router, http.MethodPost, "/api/v1/admin/alerts:sweep-expiring", "user-token", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, router, http.MethodPost, "/api/v1/admin/alerts:sweep-expiring", "staff-token", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestNewContainerReadsCatalogFromBucket(t *testing.T) {
	cfg := memoryConfig()
	cfg.Catalog = config.CatalogConfig{Bucket: "catalogs", Object: "tidewatch.yaml"}
	reader := &bucketStub{err: errors.New("object missing")}

	_, err := NewContainer(context.Background(), cfg,
		WithTokenVerifier(tokenTable{}),
		WithCatalogReader(reader),
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "gs://catalogs/tidewatch.yaml")
	require.Equal(t, "catalogs", reader.bucket)
	require.Equal(t, "tidewatch.yaml", reader.object)
}

func TestNewContainerRejectsUnknownBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.Persistence.Backend = "postgres"
	_, err := NewContainer(context.Background(), cfg, WithTokenVerifier(tokenTable{}))
	require.ErrorContains(t, err, "persistence backend")

	cfg = memoryConfig()
	cfg.Events.Backend = "sqs"
	_, err = NewContainer(context.Background(), cfg, WithTokenVerifier(tokenTable{}))
	require.ErrorContains(t, err, "events backend")
}

func TestSecretCheckDegradesReadiness(t *testing.T) {
	c := newMemoryContainer(t, memoryConfig(), WithSecretHealthCheck(func(context.Context) error {
		return errors.New("permission denied")
	}))
	router := handlers.NewRouter(c.RouterOptions()...)

	rec := serve(t, router, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	rec = serve(t, router, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunBackgroundStopsOnCancel(t *testing.T) {
	cfg := memoryConfig()
	cfg.Idempotency.CleanupInterval = 10 * time.Millisecond
	cfg.Idempotency.CleanupBatchSize = 10
	cfg.Alerts.SweepInterval = 10 * time.Millisecond
	c := newMemoryContainer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunBackground(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background jobs did not stop")
	}
}
