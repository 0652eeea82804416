package cds

import (
	"archive/zip"
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rtm0/era5-anomaly/internal/observability"
)

// Retriever runs a CDS request and writes the result to dst.
type Retriever interface {
	Retrieve(ctx context.Context, dataset string, request map[string]any, dst io.Writer) (int64, error)
}

// Cache keeps retrieved results on disk, keyed by dataset and request. Zipped
// results are unpacked to their first NetCDF member.
type Cache struct {
	logger    *slog.Logger
	dir       string
	retriever Retriever
	metrics   *observability.Metrics
	offline   bool
}

// NewCache creates a cache in dir. A nil retriever makes the cache offline:
// misses fail with ErrNotCached.
func NewCache(logger *slog.Logger, dir string, retriever Retriever, metrics *observability.Metrics) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	return &Cache{
		logger:    logger,
		dir:       dir,
		retriever: retriever,
		metrics:   metrics,
		offline:   retriever == nil,
	}, nil
}

// Key returns the cache key of a request. encoding/json sorts map keys, so
// equal requests always produce the same key.
func Key(dataset string, request map[string]any) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(dataset))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fetch returns the path of a NetCDF file holding the result of the request,
// retrieving it on a cache miss.
func (c *Cache) Fetch(ctx context.Context, dataset string, request map[string]any) (string, error) {
	key, err := Key(dataset, request)
	if err != nil {
		return "", err
	}
	path := filepath.Join(c.dir, key+".nc")
	if _, err := os.Stat(path); err == nil {
		c.lookup(true)
		c.logger.Info("Using cached result", "dataset", dataset, "path", path)
		return path, nil
	}
	c.lookup(false)
	if c.offline {
		return "", fmt.Errorf("%s %s: %w", dataset, key, ErrNotCached)
	}

	tmp, err := os.CreateTemp(c.dir, key+".*.part")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	n, err := c.retriever.Retrieve(ctx, dataset, request, bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if c.metrics != nil {
		c.metrics.DownloadBytes.Add(float64(n))
	}
	c.logger.Info("Retrieved result", "dataset", dataset, "bytes", n)

	if isZip(tmp.Name()) {
		err = unzipNetCDF(tmp.Name(), path)
	} else {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

func (c *Cache) lookup(hit bool) {
	if c.metrics != nil {
		c.metrics.CacheLookup(hit)
	}
}

var zipMagic = []byte("PK\x03\x04")

func isZip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return string(head) == string(zipMagic)
}

// unzipNetCDF extracts the first .nc member of the archive to dst.
func unzipNetCDF(archive, dst string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(zf.Name), ".nc") {
			continue
		}
		return extract(zf, dst)
	}
	return errors.New("archive holds no NetCDF file")
}

func extract(zf *zip.File, dst string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp := dst + ".unzip"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("extract %s: %w", zf.Name, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
