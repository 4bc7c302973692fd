package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/roach88/stitch/internal/config"
)

// CacheKey identifies the current content of a source for incremental
// runs. Local files key on uri, size and modification time; remote files
// on uri plus the ETag or Last-Modified header. It returns "" when the
// content cannot be identified, and such a source is always extracted.
func CacheKey(ctx context.Context, client *http.Client, src config.Source) string {
	if !config.IsRemote(src.URI) {
		fi, err := os.Stat(strings.TrimPrefix(src.URI, "file://"))
		if err != nil {
			return ""
		}
		return checksum(src.URI, strconv.FormatInt(fi.Size(), 10), strconv.FormatInt(fi.ModTime().UnixNano(), 10))
	}
	if !strings.HasPrefix(src.URI, "http://") && !strings.HasPrefix(src.URI, "https://") {
		return ""
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, src.URI, nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return ""
	}
	version := resp.Header.Get("ETag")
	if version == "" {
		version = resp.Header.Get("Last-Modified")
	}
	if version == "" {
		return ""
	}
	return checksum(src.URI, version)
}

func checksum(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
