package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/roach88/stitch/internal/errors"
)

// Archive keeps local copies of remote sources.
//
// A fetched file lives at <dir>/<host>/<path>/<sha256>/<basename>. The
// uri -> file mapping is cached under <dir>/.cache so later runs reuse the
// copy without downloading again.
type Archive struct {
	dir     string
	log     *zap.SugaredLogger
	getters map[string]getter.Getter
}

// NewArchive returns an archive rooted at dir.
func NewArchive(dir string, log *zap.SugaredLogger) *Archive {
	getters := maps.Clone(getter.Getters)
	// Copy local files instead of symlinking them into the archive.
	getters["file"] = &getter.FileGetter{Copy: true}
	return &Archive{dir: dir, log: log, getters: getters}
}

// Dir returns the archive root.
func (a *Archive) Dir() string { return a.dir }

// Key returns the archive directory of uri relative to the root.
func Key(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return strings.Trim(filepath.ToSlash(filepath.Clean(uri)), "/")
	}
	return strings.Trim(path.Join(u.Host, u.Path), "/")
}

func (a *Archive) cachePath(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return filepath.Join(a.dir, ".cache", hex.EncodeToString(sum[:]))
}

// Fetch returns the local path of uri, downloading it unless a cached
// copy exists and useCache is set.
func (a *Archive) Fetch(ctx context.Context, uri string, useCache bool) (string, error) {
	if useCache {
		if p, ok := a.cached(uri); ok {
			a.log.Debugw("archive hit", "uri", uri, "path", p)
			return p, nil
		}
	}

	tmpDir := filepath.Join(a.dir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create archive dir")
	}
	tmp, err := os.MkdirTemp(tmpDir, "fetch-*")
	if err != nil {
		return "", errors.Wrap(err, "create archive temp dir")
	}
	defer os.RemoveAll(tmp)

	name := path.Base(Key(uri))
	if name == "" || name == "." || name == "/" {
		name = "source"
	}
	dst := filepath.Join(tmp, name)

	a.log.Infow("archiving source", "uri", uri, "archive", a.dir)
	client := &getter.Client{
		Ctx:     ctx,
		Src:     uri,
		Dst:     dst,
		Mode:    getter.ClientModeFile,
		Getters: a.getters,
	}
	if err := client.Get(); err != nil {
		return "", errors.Wrapf(err, "fetch %s", uri)
	}

	sum, err := checksumFile(dst)
	if err != nil {
		return "", err
	}
	final := filepath.Join(a.dir, filepath.FromSlash(Key(uri)), sum, name)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", errors.Wrap(err, "create archive dir")
	}
	if err := os.Rename(dst, final); err != nil {
		return "", errors.Wrapf(err, "archive %s", uri)
	}
	if err := a.remember(uri, final); err != nil {
		return "", err
	}
	return final, nil
}

func (a *Archive) cached(uri string) (string, bool) {
	data, err := os.ReadFile(a.cachePath(uri))
	if err != nil {
		return "", false
	}
	p := filepath.Join(a.dir, filepath.FromSlash(strings.TrimSpace(string(data))))
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

func (a *Archive) remember(uri, final string) error {
	rel, err := filepath.Rel(a.dir, final)
	if err != nil {
		return errors.Wrap(err, "archive cache")
	}
	cp := a.cachePath(uri)
	if err := os.MkdirAll(filepath.Dir(cp), 0o755); err != nil {
		return errors.Wrap(err, "archive cache")
	}
	return errors.Wrap(os.WriteFile(cp, []byte(filepath.ToSlash(rel)), 0o644), "archive cache")
}

func checksumFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", p)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "checksum %s", p)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
