package branding

import (
	"archive/zip"
	"bytes"
	"context"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// snapshot returns relative path -> content for every regular file under dir.
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	require.NoError(t, err)
	return out
}

func seedBranding(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "branding")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.svg"), []byte("default logo"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-config.json"), []byte(`{"appTitle":"Keptn"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img", "keep.png"), []byte("untouched"), 0o644))
	return dir
}

func serveBytes(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(t *testing.T, url, target string) *Fetcher {
	t.Helper()
	return New(Options{
		URL:        url,
		TargetDir:  target,
		StagingDir: t.TempDir(),
		Delay:      time.Millisecond,
		Timeout:    5 * time.Second,
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "extracting", StateExtracting.String())
	assert.Equal(t, "canceled", StateCanceled.String())
	assert.Equal(t, "network_error", NetworkError.String())
}

func TestSchedule_NoURLNeverTouchesDirectory(t *testing.T) {
	dir := seedBranding(t)
	before := snapshot(t, dir)

	f := newFetcher(t, "", dir)
	f.Schedule(context.Background())

	assert.False(t, f.Enabled())
	assert.Equal(t, StateIdle, f.State())
	select {
	case <-f.Done():
		t.Fatal("idle fetcher must never complete")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, before, snapshot(t, dir))

	res := f.Run(context.Background())
	assert.ErrorIs(t, res.Err, ErrNotConfigured)
	assert.Equal(t, before, snapshot(t, dir))
}

func TestRun_OverlaysArchive(t *testing.T) {
	dir := seedBranding(t)
	archive := map[string]string{
		"logo.svg":        "custom logo",
		"app-config.json": `{"appTitle":"ACME"}`,
		"css/theme.css":   "body { color: red; }",
	}
	srv := serveBytes(t, buildZip(t, archive))

	f := newFetcher(t, srv.URL+"/lookandfeel.zip", dir)
	res := f.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, []string{"app-config.json", "css/theme.css", "logo.svg"}, res.Files)
	assert.Equal(t, StateDone, f.State())

	after := snapshot(t, dir)
	for name, content := range archive {
		assert.Equal(t, content, after[name], name)
	}
	assert.Equal(t, "untouched", after["img/keep.png"])
	assert.Len(t, after, 4)

	_, err := os.Stat(f.StagingFile())
	assert.True(t, os.IsNotExist(err), "staging archive should be removed")

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "extraction staging directory should be removed")
}

func TestRun_ConnectionResetLeavesDirectoryUnchanged(t *testing.T) {
	dir := seedBranding(t)
	before := snapshot(t, dir)
	body := buildZip(t, map[string]string{"logo.svg": "custom logo"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body[:len(body)/2])
		w.(http.Flusher).Flush()

		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	t.Cleanup(srv.Close)

	f := newFetcher(t, srv.URL, dir)
	res := f.Run(context.Background())

	require.Error(t, res.Err)
	assert.Equal(t, NetworkError, res.Outcome)
	assert.Equal(t, StateFailed, f.State())
	assert.Equal(t, before, snapshot(t, dir))
}

func TestRun_HTTPErrorIsNetworkError(t *testing.T) {
	dir := seedBranding(t)
	before := snapshot(t, dir)
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	res := newFetcher(t, srv.URL, dir).Run(context.Background())

	assert.Equal(t, NetworkError, res.Outcome)
	assert.Contains(t, res.Err.Error(), "unexpected status 404")
	assert.Equal(t, before, snapshot(t, dir))
}

func TestRun_CorruptArchiveIsExtractError(t *testing.T) {
	dir := seedBranding(t)
	before := snapshot(t, dir)
	srv := serveBytes(t, []byte("this is not a zip file"))

	f := newFetcher(t, srv.URL, dir)
	res := f.Run(context.Background())

	assert.Equal(t, ExtractError, res.Outcome)
	assert.Equal(t, StateFailed, f.State())
	assert.Equal(t, before, snapshot(t, dir))
}

func TestRun_TooLarge(t *testing.T) {
	dir := seedBranding(t)
	srv := serveBytes(t, buildZip(t, map[string]string{"logo.svg": "custom logo"}))

	f := New(Options{URL: srv.URL, TargetDir: dir, StagingDir: t.TempDir(), MaxBytes: 10})
	res := f.Run(context.Background())

	assert.Equal(t, NetworkError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrTooLarge)
	_, err := os.Stat(f.StagingFile())
	assert.True(t, os.IsNotExist(err))
}

func TestRun_OnlyOnce(t *testing.T) {
	dir := seedBranding(t)
	var hits atomic.Int32
	body := buildZip(t, map[string]string{"logo.svg": "custom logo"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	f := newFetcher(t, srv.URL, dir)
	first := f.Run(context.Background())
	second := f.Run(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSchedule_RunsAfterDelay(t *testing.T) {
	dir := seedBranding(t)
	srv := serveBytes(t, buildZip(t, map[string]string{"logo.svg": "custom logo"}))

	f := newFetcher(t, srv.URL, dir)
	f.Schedule(context.Background())
	f.Schedule(context.Background())

	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not complete")
	}

	res, ok := f.Result()
	require.True(t, ok)
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, "custom logo", snapshot(t, dir)["logo.svg"])
}

func TestSchedule_CanceledBeforeDelay(t *testing.T) {
	dir := seedBranding(t)
	before := snapshot(t, dir)
	srv := serveBytes(t, buildZip(t, map[string]string{"logo.svg": "custom logo"}))

	f := New(Options{URL: srv.URL, TargetDir: dir, StagingDir: t.TempDir(), Delay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	f.Schedule(ctx)
	assert.Equal(t, StateScheduled, f.State())
	cancel()

	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the scheduled fetch")
	}

	assert.Equal(t, StateCanceled, f.State())
	_, ok := f.Result()
	assert.False(t, ok)
	assert.Equal(t, before, snapshot(t, dir))
}

func TestRun_AfterCancelDoesNotDownload(t *testing.T) {
	dir := seedBranding(t)
	before := snapshot(t, dir)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	f := New(Options{URL: srv.URL, TargetDir: dir, StagingDir: t.TempDir(), Delay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	f.Schedule(ctx)
	cancel()
	<-f.Done()

	res := f.Run(context.Background())

	assert.ErrorIs(t, res.Err, ErrCanceled)
	assert.Equal(t, StateCanceled, f.State())
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, before, snapshot(t, dir))
}
