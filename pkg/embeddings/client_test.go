package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedDocumentsPrefixesInputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req struct {
			Inputs []string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Inputs) != 2 {
			t.Fatalf("inputs = %v", req.Inputs)
		}
		if req.Inputs[0] != PrefixDocument+"first doc" || req.Inputs[1] != PrefixDocument+"second doc" {
			t.Errorf("inputs missing document prefix: %v", req.Inputs)
		}
		fmt.Fprint(w, `[[0.1, 0.2], [0.3, 0.4]]`)
	}))
	defer srv.Close()

	client := NewTEIClient(srv.URL)
	vectors, err := client.EmbedDocuments(context.Background(), []string{"first doc", "second doc"})
	if err != nil {
		t.Fatalf("EmbedDocuments: %v", err)
	}
	if len(vectors) != 2 || len(vectors[0]) != 2 || vectors[1][1] != 0.4 {
		t.Errorf("vectors = %v", vectors)
	}
}

func TestEmbedQueryUsesQueryPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Inputs) != 1 || req.Inputs[0] != PrefixQuery+"capital of france" {
			t.Errorf("inputs = %v, want single query-prefixed input", req.Inputs)
		}
		fmt.Fprint(w, `[[0.5, 0.6, 0.7]]`)
	}))
	defer srv.Close()

	client := NewTEIClient(srv.URL)
	vector, err := client.EmbedQuery(context.Background(), "capital of france")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(vector) != 3 || vector[0] != 0.5 {
		t.Errorf("vector = %v", vector)
	}
}

func TestEmbedVectorCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[0.1, 0.2]]`)
	}))
	defer srv.Close()

	client := NewTEIClient(srv.URL)
	_, err := client.EmbedDocuments(context.Background(), []string{"one", "two"})
	if err == nil {
		t.Fatal("expected error when vector count does not match input count")
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewTEIClient(srv.URL)
	if _, err := client.EmbedQuery(context.Background(), "q"); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewTEIClient(srv.URL).Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
