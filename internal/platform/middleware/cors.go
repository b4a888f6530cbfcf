package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// Static cross-origin policy stamped on every response.
var corsPolicy = map[string]string{
	"Access-Control-Allow-Origin":      "*",
	"Access-Control-Allow-Credentials": "true",
	"Access-Control-Allow-Methods":     "*",
	"Access-Control-Allow-Headers":     "*",
}

var allMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
	http.MethodConnect,
	http.MethodTrace,
}

// CORS returns middleware applying the blanket cross-origin policy: any origin,
// any method, any header, credentials allowed. The policy headers are written
// for every request regardless of path, method, or Origin. Preflight requests
// are answered here with 200 and never reach the router.
//
// With a wildcard origin browsers refuse credentialed reads even though
// credentials are advertised; uncredentialed reads succeed.
func CORS() func(http.Handler) http.Handler {
	preflight := cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   allMethods,
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return func(next http.Handler) http.Handler {
		h := preflight(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := w.Header()
			for k, v := range corsPolicy {
				header.Set(k, v)
			}
			h.ServeHTTP(w, r)
		})
	}
}
