package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsidy-esign/internal/common/auth"
	"subsidy-esign/internal/common/config"
)

// ==========================
// Redis Token Store Tests
// ==========================

func TestRedisTokenStore_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedis(config.RedisConfig{Address: mr.Addr()})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()))

	store := NewRedisTokenStore(client.Client, "esign:token:")
	ctx := context.Background()

	missing, err := store.LoadToken(ctx, "docusign")
	require.NoError(t, err)
	assert.Nil(t, missing)

	tok := &auth.Token{AccessToken: "abc", TokenType: "Bearer", ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second)}
	require.NoError(t, store.SaveToken(ctx, "docusign", tok))
	assert.True(t, mr.Exists("esign:token:docusign"))
	assert.Greater(t, mr.TTL("esign:token:docusign"), 55*time.Minute)

	loaded, err := store.LoadToken(ctx, "docusign")
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, loaded.AccessToken)
	assert.True(t, tok.ExpiresAt.Equal(loaded.ExpiresAt))

	require.NoError(t, store.DeleteToken(ctx, "docusign"))
	assert.False(t, mr.Exists("esign:token:docusign"))
}

func TestRedisTokenStore_SkipsExpiredTokens(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisTokenStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "p:")

	require.NoError(t, store.SaveToken(context.Background(), "graph", &auth.Token{AccessToken: "old", ExpiresAt: time.Now().Add(-time.Minute)}))
	assert.False(t, mr.Exists("p:graph"))
}

func TestRedisTokenStore_Errors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisTokenStore(db, "p:")

	mock.ExpectGet("p:docusign").SetErr(errors.New("connection reset"))
	_, err := store.LoadToken(context.Background(), "docusign")
	assert.ErrorContains(t, err, "connection reset")

	mock.ExpectGet("p:docusign").SetVal("{not json")
	_, err = store.LoadToken(context.Background(), "docusign")
	assert.ErrorContains(t, err, "decode stored token")

	mock.ExpectDel("p:docusign").SetErr(errors.New("readonly replica"))
	assert.Error(t, store.DeleteToken(context.Background(), "docusign"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Elasticsearch Tests
// ==========================

func TestElasticsearch_IndexDocument(t *testing.T) {
	var gotPath string
	var gotDoc map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodHead {
			return
		}
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotDoc)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	es, err := NewElasticsearch(config.ElasticsearchConfig{Addresses: []string{server.URL}})
	require.NoError(t, err)
	require.NoError(t, es.Ping(context.Background()))

	err = es.IndexDocument(context.Background(), "esign-audit", "entry-1", map[string]string{"kind": "completed"})
	require.NoError(t, err)
	assert.Equal(t, "/esign-audit/_doc/entry-1", gotPath)
	assert.Equal(t, "completed", gotDoc["kind"])
}

func TestElasticsearch_IndexDocumentError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	}))
	defer server.Close()

	es, err := NewElasticsearch(config.ElasticsearchConfig{Addresses: []string{server.URL}})
	require.NoError(t, err)

	err = es.IndexDocument(context.Background(), "esign-audit", "entry-1", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}
