package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/xenking/leafsense-cart/internal/api"
)

type requestIDKey struct{}

// RequestIDFromContext returns the id RequestID assigned to the request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID tags every request with an id, echoed in the X-Request-ID
// response header. A client-sent id is kept when it is printable ASCII of at
// most 128 bytes.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(api.HeaderRequestID)
			if !printableID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(api.HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

func printableID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, c := range []byte(id) {
		if c < ' ' || c > '~' {
			return false
		}
	}
	return true
}
