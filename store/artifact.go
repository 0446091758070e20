// ABOUTME: Downloads provider result images into per-run, per-provider, per-version artifact files.
// ABOUTME: Writes to a temporary file first and renames into place so a failed download never leaves a partial artifact.

package store

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/lookbook-studio/lookbook/tryon"
)

// ArtifactStore fetches remote result references and persists them under the
// run's results directory at a deterministic path:
// {provider}_v{version}.{ext}.
type ArtifactStore struct {
	runs   *FSRunStore
	client *http.Client
}

// NewArtifactStore creates an artifact store that places downloads inside the
// given run store's directories.
func NewArtifactStore(runs *FSRunStore) *ArtifactStore {
	return &ArtifactStore{
		runs:   runs,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

// SetHTTPClient overrides the download client (used by tests).
func (a *ArtifactStore) SetHTTPClient(c *http.Client) {
	a.client = c
}

// ArtifactPath returns the canonical artifact path for a (run, provider,
// version) triple with the given extension.
func (a *ArtifactStore) ArtifactPath(runID string, tag tryon.ProviderTag, version int, ext string) string {
	return filepath.Join(a.runs.ResultsDir(runID), fmt.Sprintf("%s_v%d%s", tag, version, ext))
}

// Download fetches the result image at rawURL and persists it for the given
// (run, provider, version). Returns the artifact's path on disk. Any network
// or filesystem failure is surfaced as a *tryon.ServiceError and leaves no
// file at the canonical path.
func (a *ArtifactStore) Download(ctx context.Context, rawURL string, runID string, tag tryon.ProviderTag, version int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", tryon.NewServiceError(tag, tryon.FailureDownload, "building download request", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", tryon.NewServiceError(tag, tryon.FailureDownload, "downloading result", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", tryon.NewServiceError(tag, tryon.FailureDownload,
			fmt.Sprintf("downloading result: status %d", resp.StatusCode), nil)
	}

	resultsDir := a.runs.ResultsDir(runID)
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return "", tryon.NewServiceError(tag, tryon.FailureStorage, "creating results directory", err)
	}

	ext := artifactExt(rawURL, resp.Header.Get("Content-Type"))
	dest := a.ArtifactPath(runID, tag, version, ext)

	tmp, err := os.CreateTemp(resultsDir, ".download-*")
	if err != nil {
		return "", tryon.NewServiceError(tag, tryon.FailureStorage, "creating temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", tryon.NewServiceError(tag, tryon.FailureDownload, "writing result bytes", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", tryon.NewServiceError(tag, tryon.FailureStorage, "closing temp file", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", tryon.NewServiceError(tag, tryon.FailureStorage, "moving artifact into place", err)
	}

	log.Printf("component=store.artifact action=download run_id=%s provider=%s version=%d path=%s",
		runID, tag, version, dest)
	return dest, nil
}

// artifactExt derives the artifact file extension from the result URL's path,
// falling back to the response content type, then to ".png".
func artifactExt(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		switch ext {
		case ".png", ".jpg", ".jpeg", ".webp":
			return ext
		}
	}
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			switch mt {
			case "image/png":
				return ".png"
			case "image/jpeg":
				return ".jpg"
			case "image/webp":
				return ".webp"
			}
		}
	}
	return ".png"
}
