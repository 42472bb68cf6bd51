// Package hub downloads pretrained model files from a
// Hugging Face style model hub.
package hub

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/unixpickle/essentials"
)

const (
	// DefaultEndpoint is the base URL of the public
	// Hugging Face hub.
	DefaultEndpoint = "https://huggingface.co"

	// DefaultRevision is the branch fetched when a Client
	// names no revision.
	DefaultRevision = "main"
)

// A Client fetches files from a model hub and caches
// them on disk.
type Client struct {
	// Endpoint is the base URL of the hub.
	// If empty, DefaultEndpoint is used.
	Endpoint string

	// Revision is the branch, tag, or commit to fetch.
	// If empty, DefaultRevision is used.
	Revision string

	// CacheDir is the root of the local file cache.
	CacheDir string

	// HTTP is used for requests.
	// If nil, http.DefaultClient is used.
	HTTP *http.Client

	// Quiet disables download progress bars.
	Quiet bool
}

// Fetch returns the local path of a file from a model
// repository, downloading it if it is not cached.
func (c *Client) Fetch(ctx context.Context, repo, file string) (localPath string, err error) {
	defer essentials.AddCtxTo("fetch "+repo+"/"+file, &err)
	if repo == "" || file == "" {
		return "", fmt.Errorf("missing repository or file name")
	}
	localPath, err = c.cachePath(repo, file)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(repo, file), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(ioutil.Discard, resp.Body)
		return "", fmt.Errorf("unexpected status: %s", resp.Status)
	}

	tmp, err := ioutil.TempFile(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	var bar *progressbar.ProgressBar
	if c.Quiet {
		bar = progressbar.DefaultBytesSilent(resp.ContentLength, file)
	} else {
		bar = progressbar.DefaultBytes(resp.ContentLength, file)
	}
	_, err = io.Copy(io.MultiWriter(tmp, bar), resp.Body)
	bar.Finish()
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return "", err
	}
	return localPath, nil
}

// URL returns the download URL of a file.
func (c *Client) URL(repo, file string) string {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return strings.TrimSuffix(endpoint, "/") + "/" + path.Join(repo, "resolve",
		url.PathEscape(c.revision()), file)
}

func (c *Client) cachePath(repo, file string) (string, error) {
	if c.CacheDir == "" {
		return "", fmt.Errorf("missing cache directory")
	}
	rel := filepath.FromSlash(path.Join(repo, c.revision(), file))
	if strings.HasPrefix(path.Join(repo, c.revision(), file), "..") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid path: %s", rel)
	}
	return filepath.Join(c.CacheDir, rel), nil
}

func (c *Client) revision() string {
	if c.Revision == "" {
		return DefaultRevision
	}
	return c.Revision
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}
