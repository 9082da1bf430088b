package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/leafsense-cart/internal/api"
)

func storefrontCORS(origins []string, credentials bool) http.Handler {
	return CORS(CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", api.HeaderCustomerID, api.HeaderIdempotencyKey},
		ExposeHeaders:    []string{api.HeaderIdempotentReplayed, api.HeaderRequestID},
		AllowCredentials: credentials,
		MaxAge:           600,
	})(okHandler())
}

func TestCORS_Preflight(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		credentials bool
		origin      string
		wantAllow   string
	}{
		{name: "any origin", origin: "https://shop.leafsense.vn", wantAllow: "*"},
		{
			name:    "listed origin keeps configured spelling",
			origins: []string{"https://Shop.LeafSense.vn"},
			origin:  "https://shop.leafsense.vn", wantAllow: "https://Shop.LeafSense.vn",
		},
		{
			name:    "unlisted origin",
			origins: []string{"https://shop.leafsense.vn"},
			origin:  "https://evil.example",
		},
		{
			name:    "credentials echo the origin",
			origins: []string{"*"}, credentials: true,
			origin: "https://shop.leafsense.vn", wantAllow: "https://shop.leafsense.vn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, api.PathOrders, nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "idempotency-key, x-customer-id")
			w := httptest.NewRecorder()
			storefrontCORS(tt.origins, tt.credentials).ServeHTTP(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, w.Header().Values("Vary"), "Access-Control-Request-Headers")
			if tt.wantAllow == "" {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Headers"))
				return
			}
			assert.Equal(t, "Content-Type, X-Customer-ID, Idempotency-Key", w.Header().Get("Access-Control-Allow-Headers"))
			assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
		})
	}
}

func TestCORS_OrderResponseExposesReplayHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, api.PathOrders, nil)
	req.Header.Set("Origin", "https://shop.leafsense.vn")
	req.Header.Set(api.HeaderIdempotencyKey, "k1")
	w := httptest.NewRecorder()
	storefrontCORS([]string{"https://shop.leafsense.vn"}, true).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://shop.leafsense.vn", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Idempotency-Replayed, X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, []string{"Origin"}, w.Header().Values("Vary"))
}

func TestCORS_SameOriginPassesThrough(t *testing.T) {
	w := httptest.NewRecorder()
	storefrontCORS(nil, false).ServeHTTP(w, httptest.NewRequest(http.MethodGet, api.PathOrders, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Values("Vary"))
}