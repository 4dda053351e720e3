package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func send(h http.Handler, method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandler_AuthGuardsReadRoutes(t *testing.T) {
	h, _ := newTestServer(t, "secret123")

	paths := []string{
		"/v1/assets/BTC",
		"/v1/prices/BTC",
		"/v1/metrics/BTC?window=3",
		"/v1/metrics/latest?window=3",
		"/v1/correlation?asset1=BTC&asset2=ETH",
		"/v1/correlation/matrix?window=5",
		"/v1/runs",
		"/v1/runs/run-1",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, send(h, http.MethodGet, path, "").Code)
			assert.Equal(t, http.StatusUnauthorized, send(h, http.MethodGet, path, "Bearer wrong_key").Code)
			assert.Equal(t, http.StatusUnauthorized, send(h, http.MethodGet, path, "Basic secret123").Code)
			assert.Equal(t, http.StatusUnauthorized, send(h, http.MethodGet, path, "secret123").Code)
			assert.Equal(t, http.StatusOK, send(h, http.MethodGet, path, "Bearer secret123").Code)
		})
	}

	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/health", "").Code)
}

func TestHandler_NoKeyConfiguredIsOpen(t *testing.T) {
	h, _ := newTestServer(t, "")
	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/v1/runs", "").Code)
	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/v1/runs", "Bearer anything").Code)
}

func TestHandler_CORS(t *testing.T) {
	h, _ := newTestServer(t, "secret123")

	// preflights carry no credentials
	pre := send(h, http.MethodOptions, "/v1/metrics/BTC", "")
	assert.Equal(t, http.StatusOK, pre.Code)
	assert.Equal(t, "*", pre.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", pre.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, pre.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	denied := send(h, http.MethodGet, "/v1/runs", "")
	assert.Equal(t, http.StatusUnauthorized, denied.Code)
	assert.Equal(t, "*", denied.Header().Get("Access-Control-Allow-Origin"))

	// the surface is read-only
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rr := send(h, method, "/v1/assets", "Bearer secret123")
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, method)
	}
}

func TestHandler_WindowBounds(t *testing.T) {
	h, _ := newTestServer(t, "")

	tests := []struct {
		window string
		want   int
	}{
		{"2", http.StatusOK},
		{"365", http.StatusOK},
		{"1", http.StatusUnprocessableEntity},
		{"366", http.StatusUnprocessableEntity},
		{"-4", http.StatusUnprocessableEntity},
		{"3.5", http.StatusBadRequest},
		{"thirty", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.window, func(t *testing.T) {
			for _, path := range []string{"/v1/metrics/BTC", "/v1/metrics/latest", "/v1/correlation/matrix"} {
				rr := send(h, http.MethodGet, path+"?window="+url.QueryEscape(tt.window), "")
				assert.Equal(t, tt.want, rr.Code, path)
			}
		})
	}
}

func TestParseWindow_DefaultsWhenAbsent(t *testing.T) {
	n, err := parseWindow(httptest.NewRequest(http.MethodGet, "/v1/metrics/BTC", nil))
	require.NoError(t, err)
	assert.Equal(t, 30, n)
}

func TestParseDateParam(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2024-06-01", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), false},
		{"2024-02-29", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), false},
		{"2023-02-29", time.Time{}, true},
		{"2024-13-01", time.Time{}, true},
		{"2024-6-1", time.Time{}, true},
		{"20240601", time.Time{}, true},
		{"2024/06/01", time.Time{}, true},
		{"2024-06-01T00:00:00Z", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/prices/BTC?as_of="+url.QueryEscape(tt.raw), nil)
			got, err := parseDateParam(r, "as_of")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "as_of")
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestHandler_PriceLimitIsCapped(t *testing.T) {
	h, _ := newTestServer(t, "")

	tests := []struct {
		query string
		want  int
	}{
		{"limit=2", 2},
		{"limit=0", 6},
		{"limit=-1", 6},
		{"limit=abc", 6},
		{"limit=999999", 6},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var prices []priceJSON
			code := get(t, h, "/v1/prices/BTC?start=2024-06-01&end=2024-06-06&"+tt.query, &prices)
			require.Equal(t, http.StatusOK, code)
			assert.Len(t, prices, tt.want)
		})
	}
	assert.Equal(t, 2000, parseLimit(httptest.NewRequest(http.MethodGet, "/?limit=999999", nil), 10))
}
