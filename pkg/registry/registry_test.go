package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/semver"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func pkgInfo(t *testing.T, pkgType, name, version string) *pkginfo.PkgInfo {
	t.Helper()
	m, err := manifest.Parse([]byte(fmt.Sprintf(`{"type": %q, "name": %q, "version": %q}`, pkgType, name, version)))
	require.NoError(t, err)
	p, err := pkginfo.New(m)
	require.NoError(t, err)
	return p
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	reg, err := NewLocal(t.TempDir(), testLogger())
	require.NoError(t, err)

	var statuses []string
	reg.SetObserver(func(status string) { statuses = append(statuses, status) })

	for _, v := range []string{"1.0.0", "1.2.0", "2.0.0"} {
		url, err := reg.UploadPackage(ctx, []byte("content-"+v), pkgInfo(t, "extension", "ext_a", v))
		require.NoError(t, err)
		assert.Contains(t, url, filepath.Join("extension", "ext_a", v, PackageFileName))
	}
	_, err = reg.UploadPackage(ctx, []byte("x"), pkgInfo(t, "system", "ten_runtime", "0.1.0"))
	require.NoError(t, err)

	t.Run("duplicate upload", func(t *testing.T) {
		_, err := reg.UploadPackage(ctx, nil, pkgInfo(t, "extension", "ext_a", "1.0.0"))
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("list filters by requirement", func(t *testing.T) {
		entries, err := reg.GetPackageList(ctx, Query{
			Type:       manifest.PkgTypeExtension,
			Name:       "ext_a",
			VersionReq: semver.MustParseRequirement("^1.0.0"),
		})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "1.2.0", entries[0].Manifest.Version.String())
		assert.Equal(t, "1.0.0", entries[1].Manifest.Version.String())
		assert.NotEmpty(t, entries[0].Hash)
	})

	t.Run("list everything with paging", func(t *testing.T) {
		all, err := reg.GetPackageList(ctx, Query{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		page, err := reg.GetPackageList(ctx, Query{PageSize: 3, Page: 2})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "ten_runtime", page[0].Manifest.Name)
	})

	t.Run("get package", func(t *testing.T) {
		data, err := reg.GetPackage(ctx, manifest.PkgTypeExtension, "ext_a", semver.MustParseVersion("1.2.0"), "")
		require.NoError(t, err)
		assert.Equal(t, "content-1.2.0", string(data))

		_, err = reg.GetPackage(ctx, manifest.PkgTypeExtension, "ext_a", semver.MustParseVersion("9.9.9"), "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete checks hash", func(t *testing.T) {
		v := semver.MustParseVersion("2.0.0")
		assert.ErrorIs(t, reg.DeletePackage(ctx, manifest.PkgTypeExtension, "ext_a", v, "bogus"), ErrNotFound)

		entries, err := reg.GetPackageList(ctx, Query{Name: "ext_a", VersionReq: semver.MustParseRequirement("=2.0.0")})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.NoError(t, reg.DeletePackage(ctx, manifest.PkgTypeExtension, "ext_a", v, entries[0].Hash))

		entries, err = reg.GetPackageList(ctx, Query{Name: "ext_a"})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("entry converts to pkg info", func(t *testing.T) {
		entries, err := reg.GetPackageList(ctx, Query{Name: "ten_runtime"})
		require.NoError(t, err)
		p, err := entries[0].PkgInfo()
		require.NoError(t, err)
		assert.Equal(t, entries[0].DownloadURL, p.URL)
		assert.Equal(t, entries[0].Hash, p.BasicInfo().Hash)
	})

	assert.Contains(t, statuses, "ok")
}

type fakeServer struct {
	t        *testing.T
	packages []string
	failures int32
	requests int32
	token    string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&f.requests, 1)
	if f.token != "" && r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/packages":
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		items := f.packages
		if pageSize > 0 {
			start := min((page-1)*pageSize, len(items))
			end := min(start+pageSize, len(items))
			items = items[start:end]
		}
		raw := make([]json.RawMessage, 0, len(items))
		for _, p := range items {
			raw = append(raw, json.RawMessage(p))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"totalSize": len(f.packages), "packages": raw})
	case r.Method == http.MethodPost && r.URL.Path == "/packages":
		var req struct {
			Manifest json.RawMessage `json:"manifest"`
			Content  []byte          `json:"content"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(f.t, "payload", string(req.Content))
		_ = json.NewEncoder(w).Encode(map[string]string{"downloadUrl": "https://cdn/x.tpkg"})
	case r.Method == http.MethodDelete:
		if r.URL.Path != "/packages/extension/ext_a/1.0.0/abc" {
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func registryPackage(name, version string) string {
	return fmt.Sprintf(`{"type": "extension", "name": %q, "version": %q, "hash": "h-%s", "downloadUrl": "https://cdn/%s-%s.tpkg"}`,
		name, version, version, name, version)
}

func TestHTTP_GetPackageList(t *testing.T) {
	ctx := context.Background()

	t.Run("follows pages and caches", func(t *testing.T) {
		fake := &fakeServer{t: t, token: "secret", packages: []string{
			registryPackage("ext_a", "1.0.0"),
			registryPackage("ext_a", "1.1.0"),
			registryPackage("ext_a", "2.0.0"),
		}}
		server := httptest.NewServer(fake)
		defer server.Close()

		client, err := NewHTTP(HTTPConfig{BaseURL: server.URL, Token: "secret", PageSize: 2}, testLogger())
		require.NoError(t, err)
		var statuses []string
		client.SetObserver(func(status string) { statuses = append(statuses, status) })

		q := Query{Type: manifest.PkgTypeExtension, Name: "ext_a"}
		entries, err := client.GetPackageList(ctx, q)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "h-1.1.0", entries[1].Hash)
		assert.Equal(t, "https://cdn/ext_a-2.0.0.tpkg", entries[2].DownloadURL)
		assert.Equal(t, int32(2), atomic.LoadInt32(&fake.requests))

		_, err = client.GetPackageList(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&fake.requests))
		assert.Equal(t, []string{"ok", "cached"}, statuses)
	})

	t.Run("retries server errors", func(t *testing.T) {
		fake := &fakeServer{t: t, failures: 2, packages: []string{registryPackage("ext_a", "1.0.0")}}
		server := httptest.NewServer(fake)
		defer server.Close()

		client, err := NewHTTP(HTTPConfig{BaseURL: server.URL, MaxRetries: 3}, testLogger())
		require.NoError(t, err)

		entries, err := client.GetPackageList(ctx, Query{Name: "ext_a"})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, int32(3), atomic.LoadInt32(&fake.requests))
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		fake := &fakeServer{t: t, failures: 10}
		server := httptest.NewServer(fake)
		defer server.Close()

		client, err := NewHTTP(HTTPConfig{BaseURL: server.URL, MaxRetries: 1}, testLogger())
		require.NoError(t, err)

		_, err = client.GetPackageList(ctx, Query{Name: "ext_a"})
		assert.ErrorIs(t, err, ErrRegistryTransport)
		assert.Equal(t, int32(2), atomic.LoadInt32(&fake.requests))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		fake := &fakeServer{t: t, token: "secret"}
		server := httptest.NewServer(fake)
		defer server.Close()

		client, err := NewHTTP(HTTPConfig{BaseURL: server.URL, MaxRetries: 3}, testLogger())
		require.NoError(t, err)

		_, err = client.GetPackageList(ctx, Query{})
		assert.ErrorIs(t, err, ErrRegistryTransport)
		assert.Equal(t, int32(1), atomic.LoadInt32(&fake.requests))
	})

	t.Run("invalid manifest in response", func(t *testing.T) {
		fake := &fakeServer{t: t, packages: []string{`{"type": "extension", "hash": "x"}`}}
		server := httptest.NewServer(fake)
		defer server.Close()

		client, err := NewHTTP(HTTPConfig{BaseURL: server.URL}, testLogger())
		require.NoError(t, err)

		_, err = client.GetPackageList(ctx, Query{})
		assert.ErrorIs(t, err, manifest.ErrInvalidManifest)
	})
}

func TestHTTP_UploadAndDelete(t *testing.T) {
	ctx := context.Background()
	fake := &fakeServer{t: t}
	server := httptest.NewServer(fake)
	defer server.Close()

	client, err := NewHTTP(HTTPConfig{BaseURL: server.URL}, testLogger())
	require.NoError(t, err)

	url, err := client.UploadPackage(ctx, []byte("payload"), pkgInfo(t, "extension", "ext_a", "1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.tpkg", url)

	v := semver.MustParseVersion("1.0.0")
	require.NoError(t, client.DeletePackage(ctx, manifest.PkgTypeExtension, "ext_a", v, "abc"))
	assert.ErrorIs(t, client.DeletePackage(ctx, manifest.PkgTypeExtension, "ext_a", v, "other"), ErrNotFound)
}
