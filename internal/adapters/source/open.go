// Package source opens review CSVs from a local path, an http(s) URL or an
// s3://bucket/key location. Names ending in .gz are decompressed on the fly.
package source

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"review_hub/internal/domain"
)

type Options struct {
	S3Region    string
	S3Endpoint  string // MinIO or other S3-compatible endpoint
	S3AccessKey string
	S3SecretKey string

	HTTPClient *http.Client
}

// Open resolves location and returns a CSV row source positioned after the
// header. Every failure here is a *domain.SourceUnavailableError.
func Open(ctx context.Context, location string, opt Options) (*CSVSource, error) {
	rc, err := openReader(ctx, location, opt)
	if err != nil {
		return nil, &domain.SourceUnavailableError{Location: location, Err: err}
	}
	if strings.HasSuffix(strings.ToLower(location), ".gz") {
		zr, err := gzip.NewReader(rc)
		if err != nil {
			_ = rc.Close()
			return nil, &domain.SourceUnavailableError{Location: location, Err: err}
		}
		rc = &gzipReadCloser{Reader: zr, under: rc}
	}
	src, err := NewCSV(rc, location)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	return src, nil
}

func openReader(ctx context.Context, location string, opt Options) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(location, "s3://"):
		return openS3(ctx, location, opt)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return openHTTP(ctx, opt.HTTPClient, location)
	default:
		return os.Open(strings.TrimPrefix(location, "file://"))
	}
}

type gzipReadCloser struct {
	*gzip.Reader
	under io.Closer
}

func (g *gzipReadCloser) Close() error {
	zerr := g.Reader.Close()
	if err := g.under.Close(); err != nil {
		return err
	}
	return zerr
}
