package hub

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.URL.Path != "/user/model/resolve/main/config.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"hidden_size": 4}`))
	}))
	defer server.Close()

	client := &Client{Endpoint: server.URL, CacheDir: t.TempDir(), Quiet: true}
	path, err := client.Fetch(context.Background(), "user/model", "config.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(client.CacheDir, "user", "model", "main", "config.json"), path)
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"hidden_size": 4}`, string(data))

	path1, err := client.Fetch(context.Background(), "user/model", "config.json")
	require.NoError(t, err)
	assert.Equal(t, path, path1)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests), "second fetch should hit the cache")
}

func TestFetchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	dir := t.TempDir()
	client := &Client{Endpoint: server.URL, CacheDir: dir, Quiet: true}
	_, err := client.Fetch(context.Background(), "user/model", "weights.bin")
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "user", "model", "main", "weights.bin"))

	_, err = client.Fetch(context.Background(), "../..", "x")
	assert.Error(t, err)

	_, err = (&Client{Endpoint: server.URL}).Fetch(context.Background(), "a/b", "c")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Fetch(ctx, "user/model", "config.json")
	assert.Error(t, err)
}

func TestURL(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "https://huggingface.co/bert-base-uncased/resolve/main/vocab.txt",
		c.URL("bert-base-uncased", "vocab.txt"))
	c = &Client{Endpoint: "http://localhost:8080/", Revision: "v1.0"}
	assert.Equal(t, "http://localhost:8080/org/model/resolve/v1.0/tokenizer.json",
		c.URL("org/model", "tokenizer.json"))
}
