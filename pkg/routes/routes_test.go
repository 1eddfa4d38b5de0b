package routes_test

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/JaimeStill/herbtrace/pkg/routes"
)

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRegisterNestedGroups(t *testing.T) {
	var wrapped []string
	tag := func(name string) func(http.HandlerFunc) http.HandlerFunc {
		return func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				wrapped = append(wrapped, name)
				next(w, r)
			}
		}
	}

	group := routes.Group{
		Prefix: "/batches",
		Wrap:   tag("outer"),
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{id}", Handler: ok},
		},
		Children: []routes.Group{
			{
				Prefix: "/{id}/quality",
				Wrap:   tag("inner"),
				Routes: []routes.Route{{Method: "POST", Pattern: "", Handler: ok}},
			},
		},
	}

	mux := http.NewServeMux()
	routes.Register(mux, group)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/batches/B1/quality", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !slices.Equal(wrapped, []string{"outer", "inner"}) {
		t.Errorf("wrap order = %v, want [outer inner]", wrapped)
	}
}

func TestPatterns(t *testing.T) {
	group := routes.Group{
		Prefix: "/batches",
		Routes: []routes.Route{{Method: "POST", Pattern: "", Handler: ok}},
		Children: []routes.Group{
			{Prefix: "/{id}", Routes: []routes.Route{{Method: "GET", Pattern: "/timeline", Handler: ok}}},
		},
	}

	got := routes.Patterns(group)
	want := []string{"POST /batches", "GET /batches/{id}/timeline"}
	if !slices.Equal(got, want) {
		t.Errorf("Patterns() = %v, want %v", got, want)
	}
}
