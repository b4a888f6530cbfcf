package middleware

import "net/http"

// Vary returns middleware that adds the given request header names to the Vary
// response header. With no arguments it adds Accept, since huma negotiates
// between JSON and CBOR. Origin is left to the CORS middleware.
func Vary(headers ...string) func(http.Handler) http.Handler {
	if len(headers) == 0 {
		headers = []string{"Accept"}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range headers {
				w.Header().Add("Vary", h)
			}
			next.ServeHTTP(w, r)
		})
	}
}
