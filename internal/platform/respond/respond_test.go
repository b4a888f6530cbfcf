package respond

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cryptoad/cryptoad-api/internal/platform/middleware"
)

// testProblem captures the $schema field that huma.ErrorModel has no slot for.
type testProblem struct {
	Schema string `json:"$schema,omitempty"`
	Title  string `json:"title,omitempty"`
	Status int    `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func decodeJSONProblem(t *testing.T, resp *httptest.ResponseRecorder) testProblem {
	t.Helper()
	if ct := resp.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("expected application/problem+json, got %q", ct)
	}
	var p testProblem
	if err := json.Unmarshal(resp.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal problem: %v", err)
	}
	return p
}

func decodeCBORProblem(t *testing.T, resp *httptest.ResponseRecorder) huma.ErrorModel {
	t.Helper()
	if ct := resp.Header().Get("Content-Type"); ct != "application/problem+cbor" {
		t.Fatalf("expected application/problem+cbor, got %q", ct)
	}
	var p huma.ErrorModel
	if err := cbor.Unmarshal(resp.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal CBOR problem: %v", err)
	}
	return p
}

func varySet(h http.Header) map[string]int {
	set := make(map[string]int)
	for _, v := range h.Values("Vary") {
		for part := range strings.SplitSeq(v, ",") {
			set[strings.TrimSpace(part)]++
		}
	}
	return set
}

func newRootRouter() *chi.Mux {
	router := chi.NewRouter()
	router.NotFound(NotFoundHandler())
	router.MethodNotAllowed(MethodNotAllowedHandler())
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return router
}

func TestNotFoundHandlerReturnsProblemDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	resp := httptest.NewRecorder()
	newRootRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	link := resp.Header().Get("Link")
	if !strings.Contains(link, "/schemas/ErrorModel.json") || !strings.Contains(link, "describedBy") {
		t.Fatalf("expected Link header with schema, got %q", link)
	}

	problem := decodeJSONProblem(t, resp)
	if problem.Status != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", problem.Status)
	}
	if problem.Title != "Not Found" {
		t.Fatalf("unexpected title: %s", problem.Title)
	}
	if problem.Detail != "resource not found" {
		t.Fatalf("unexpected detail: %s", problem.Detail)
	}
	if problem.Schema != "http://example.com/schemas/ErrorModel.json" {
		t.Fatalf("unexpected $schema: %q", problem.Schema)
	}
}

func TestMethodNotAllowedHandlerReturnsProblemDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	resp := httptest.NewRecorder()
	newRootRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if allow := resp.Header().Get("Allow"); allow != http.MethodGet {
		t.Fatalf("expected Allow: GET, got %q", allow)
	}

	problem := decodeJSONProblem(t, resp)
	if problem.Status != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status: %d", problem.Status)
	}
	if problem.Title != "Method Not Allowed" {
		t.Fatalf("unexpected title: %s", problem.Title)
	}
	if !strings.Contains(problem.Detail, "POST") {
		t.Fatalf("expected detail to mention POST, got %s", problem.Detail)
	}
}

func TestMethodNotAllowedListsEveryRegisteredMethod(t *testing.T) {
	router := chi.NewRouter()
	router.MethodNotAllowed(MethodNotAllowedHandler())
	noop := func(w http.ResponseWriter, _ *http.Request) {}
	router.Get("/multi", noop)
	router.Post("/multi", noop)
	router.Delete("/multi", noop)

	req := httptest.NewRequest(http.MethodPatch, "/multi", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if allow := resp.Header().Get("Allow"); allow != "GET, POST, DELETE" {
		t.Fatalf("expected Allow: GET, POST, DELETE, got %q", allow)
	}
}

func TestMethodNotAllowedWithRawPath(t *testing.T) {
	router := chi.NewRouter()
	router.MethodNotAllowed(MethodNotAllowedHandler())
	router.Get("/path%2Fencoded", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/path%2Fencoded", nil)
	req.URL.RawPath = "/path%2Fencoded"
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if problem := decodeJSONProblem(t, resp); problem.Status != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status: %d", problem.Status)
	}
}

func TestAllowedMethodsNilRouteContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if methods := allowedMethods(req); methods != nil {
		t.Fatalf("expected nil for request without chi route context, got %v", methods)
	}
}

func TestProblemsNegotiateCBOR(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"not found", http.MethodGet, "/missing", http.StatusNotFound},
		{"method not allowed", http.MethodPut, "/", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Accept", "application/cbor")
			resp := httptest.NewRecorder()
			newRootRouter().ServeHTTP(resp, req)

			if resp.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.Code)
			}
			problem := decodeCBORProblem(t, resp)
			if problem.Status != tt.status {
				t.Fatalf("unexpected status: %d", problem.Status)
			}
			if problem.Title != http.StatusText(tt.status) {
				t.Fatalf("unexpected title: %s", problem.Title)
			}
		})
	}
}

func newPanicAPI(t *testing.T, handler func(context.Context, *struct{}) (*struct{}, error)) *chi.Mux {
	t.Helper()
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID(),
		chimiddleware.RealIP,
		Recoverer(),
	)
	api := humachi.New(router, huma.DefaultConfig("Test", "test"))
	huma.Get(api, "/panic", handler)
	return router
}

func TestRecovererReturnsProblemDetails(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"string", "boom"},
		{"error", errors.New("wrapped error")},
		{"int", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newPanicAPI(t, func(context.Context, *struct{}) (*struct{}, error) {
				panic(tt.value)
			})

			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/panic", nil))

			if resp.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", resp.Code)
			}
			problem := decodeJSONProblem(t, resp)
			if problem.Title != "Internal Server Error" {
				t.Fatalf("unexpected title: %s", problem.Title)
			}
			if problem.Detail != "internal server error" {
				t.Fatalf("unexpected detail: %s", problem.Detail)
			}
		})
	}
}

func TestRecovererReturnsCBORWhenAccepted(t *testing.T) {
	router := newPanicAPI(t, func(context.Context, *struct{}) (*struct{}, error) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set("Accept", "application/cbor")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if problem := decodeCBORProblem(t, resp); problem.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", problem.Status)
	}
}

func TestRecovererRePanicsOnErrAbortHandler(t *testing.T) {
	router := chi.NewRouter()
	router.Use(Recoverer())
	router.Get("/abort", func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	defer func() {
		rec := recover()
		err, ok := rec.(error)
		if !ok || !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected http.ErrAbortHandler to be re-panicked, got %v", rec)
		}
	}()

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abort", nil))

	t.Fatal("expected panic to propagate, but handler returned normally")
}

func TestRecovererSkipsWriteWhenHeaderAlreadyWritten(t *testing.T) {
	router := chi.NewRouter()
	router.Use(Recoverer())
	router.Get("/partial", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial response"))
		panic("panic after write")
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/partial", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected original 200 status to be preserved, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "partial response" {
		t.Fatalf("expected original body to be preserved, got %q", body)
	}
}

func TestResponseWriterTracksWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec}
	if rw.wroteHeader {
		t.Fatal("expected wroteHeader to be false initially")
	}
	rw.WriteHeader(http.StatusCreated)
	if !rw.wroteHeader || rec.Code != http.StatusCreated {
		t.Fatalf("expected header written with 201, got wroteHeader=%v code=%d", rw.wroteHeader, rec.Code)
	}

	rec2 := httptest.NewRecorder()
	rw2 := &responseWriter{ResponseWriter: rec2}
	if n, err := rw2.Write([]byte("hello")); err != nil || n != 5 {
		t.Fatalf("unexpected write result: n=%d err=%v", n, err)
	}
	if !rw2.wroteHeader {
		t.Fatal("expected wroteHeader to be true after Write")
	}
	if rw2.Unwrap() != rec2 {
		t.Fatal("expected Unwrap to return underlying ResponseWriter")
	}
}

func TestProblemVaryHeader(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		want     []string
	}{
		{"empty", "", []string{"Origin", "Accept"}},
		{"merges with existing", "Accept-Encoding", []string{"Accept-Encoding", "Origin", "Accept"}},
		{"comma separated existing", "Accept-Encoding, Accept-Language", []string{"Accept-Encoding", "Accept-Language", "Origin", "Accept"}},
		{"no duplicates", "Accept", []string{"Accept", "Origin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.existing != "" {
					w.Header().Set("Vary", tt.existing)
				}
				NotFoundHandler().ServeHTTP(w, r)
			})
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/missing", nil))

			set := varySet(resp.Header())
			for _, v := range tt.want {
				if set[v] != 1 {
					t.Fatalf("expected %q exactly once in Vary, got %v", v, resp.Header().Values("Vary"))
				}
			}
		})
	}
}

func TestEnsureVary(t *testing.T) {
	h := make(http.Header)
	ensureVary(h)
	if len(h.Values("Vary")) != 0 {
		t.Fatalf("expected no Vary header when no values provided, got %v", h.Values("Vary"))
	}

	ensureVary(h, "Accept", "Accept", "Origin")
	if set := varySet(h); set["Accept"] != 1 || set["Origin"] != 1 {
		t.Fatalf("expected Accept and Origin once each, got %v", h.Values("Vary"))
	}
}

func TestJSONResponseHasNoHTMLEscaping(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "no route for <script>&co")
	})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/missing", nil))

	body := resp.Body.String()
	if strings.Contains(body, `\u003c`) || strings.Contains(body, `\u0026`) {
		t.Fatalf("response should not contain HTML-escaped characters: %s", body)
	}
	if !strings.Contains(body, "<script>&co") {
		t.Fatalf("expected raw detail in body: %s", body)
	}
}

func TestSchemaURLScheme(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"plain http", func(*http.Request) {}, "http://api.example.com/schemas/ErrorModel.json"},
		{"forwarded https", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https") }, "https://api.example.com/schemas/ErrorModel.json"},
		{"tls", func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, "https://api.example.com/schemas/ErrorModel.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/missing", nil)
			req.Host = "api.example.com"
			tt.setup(req)
			resp := httptest.NewRecorder()
			NotFoundHandler().ServeHTTP(resp, req)

			if problem := decodeJSONProblem(t, resp); problem.Schema != tt.want {
				t.Fatalf("expected $schema %q, got %q", tt.want, problem.Schema)
			}
		})
	}
}
