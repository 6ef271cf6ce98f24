package jina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"campus-qa-be/pkg/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_SendsTaskAndNormalizes(t *testing.T) {
	var got embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[3,4]}]}`))
	}))
	defer srv.Close()

	out, err := NewJinaProvider("key", srv.URL).Generate(context.Background(), "học phí", embedding.TaskRetrievalQuery)
	require.NoError(t, err)

	assert.Equal(t, "retrieval.query", got.Task)
	assert.Equal(t, 768, got.Dimensions)
	assert.Equal(t, []string{"học phí"}, got.Input)
	assert.InDelta(t, 0.6, out.Embedding.Values[0], 1e-6)
	assert.InDelta(t, 0.8, out.Embedding.Values[1], 1e-6)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"detail":"bad key"}`},
		{name: "empty data", status: http.StatusOK, body: `{"data":[]}`},
		{name: "detail on ok", status: http.StatusOK, body: `{"detail":"quota"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewJinaProvider("key", srv.URL).Generate(context.Background(), "x", embedding.TaskRetrievalDocument)
			assert.Error(t, err)
		})
	}
}
