package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func Test_EmbedBatch_NotConfigured(t *testing.T) {
	t.Parallel()
	c := NewEmbeddingClient(Endpoint{}, NewPool())
	_, err := c.EmbedBatch(context.Background(), []string{"x"}, 2)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("want ErrNotConfigured, got %v", err)
	}
}

func Test_EmbedBatch_PartitionsAndPreservesOrder(t *testing.T) {
	t.Parallel()
	var requests [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		requests = append(requests, req.Input)

		// Respond with indices reversed to prove reassembly by index.
		resp := embedResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(len(req.Input[i]))}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	pool := NewPool()
	defer pool.Close()
	c := NewEmbeddingClient(Endpoint{BaseURL: srv.URL, Model: "embed-1"}, pool)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := c.EmbedBatch(context.Background(), texts, 2)
	if err != nil {
		t.Fatal(err)
	}

	if len(requests) != 3 {
		t.Fatalf("want 3 requests for 5 texts at batch size 2, got %d", len(requests))
	}
	if len(vectors) != len(texts) {
		t.Fatalf("want %d vectors, got %d", len(texts), len(vectors))
	}
	for i, text := range texts {
		if len(vectors[i]) != 1 || vectors[i][0] != float32(len(text)) {
			t.Errorf("vectors[%d] = %v, want [%d] (input order preserved)", i, vectors[i], len(text))
		}
	}
}

func Test_EmbedBatch_FailingGroupLeavesNilVectors(t *testing.T) {
	t.Parallel()
	var call int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		if call == 2 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := embedResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{1}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	pool := NewPool()
	defer pool.Close()
	c := NewEmbeddingClient(Endpoint{BaseURL: srv.URL, Model: "embed-1"}, pool)

	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e", "f"}, 2)
	if err != nil {
		t.Fatalf("partial failure must not error the call: %v", err)
	}

	// Second group (indices 2,3) failed; the rest succeeded.
	for _, i := range []int{0, 1, 4, 5} {
		if vectors[i] == nil {
			t.Errorf("vectors[%d] = nil, want embedding", i)
		}
	}
	for _, i := range []int{2, 3} {
		if vectors[i] != nil {
			t.Errorf("vectors[%d] = %v, want nil for failed group", i, vectors[i])
		}
	}
}

func Test_EmbedOne(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2],"index":0}]}`)
	}))
	defer srv.Close()

	pool := NewPool()
	defer pool.Close()
	c := NewEmbeddingClient(Endpoint{BaseURL: srv.URL, Model: "embed-1"}, pool)

	vec, err := c.EmbedOne(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 {
		t.Errorf("want 2-dim vector, got %v", vec)
	}
}

func Test_embedGroup_IndexOutOfRange(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[1],"index":5}]}`)
	}))
	defer srv.Close()

	pool := NewPool()
	defer pool.Close()
	c := NewEmbeddingClient(Endpoint{BaseURL: srv.URL, Model: "embed-1"}, pool)

	if _, err := c.embedGroup(context.Background(), []string{"only"}); err == nil {
		t.Error("want error for out-of-range provider index")
	}
}
