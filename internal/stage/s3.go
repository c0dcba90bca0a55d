package stage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"mailbuild/internal/pipeline"
)

// S3 uploads files to an S3 bucket, optionally gzip encoded, with up to
// max_operations uploads in flight.
type S3 struct {
	deps Dependencies
}

type s3Options struct {
	Key           string        `mapstructure:"key"`
	Secret        string        `mapstructure:"secret"`
	Region        string        `mapstructure:"region" validate:"required"`
	Bucket        string        `mapstructure:"bucket" validate:"required"`
	Endpoint      string        `mapstructure:"endpoint" validate:"omitempty,url"`
	PathStyle     bool          `mapstructure:"path_style"`
	Access        string        `mapstructure:"access" validate:"omitempty,oneof=private public-read public-read-write authenticated-read bucket-owner-read bucket-owner-full-control"`
	CacheControl  string        `mapstructure:"cache_control"`
	ExpiresIn     time.Duration `mapstructure:"expires_in"`
	Gzip          bool          `mapstructure:"gzip"`
	GzipTypes     []string      `mapstructure:"gzip_types"`
	MaxOperations int           `mapstructure:"max_operations" validate:"min=1,max=100"`
	Prefix        string        `mapstructure:"prefix"`
}

func (s *S3) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	opts := s3Options{
		Access:        "private",
		MaxOperations: 20,
		GzipTypes:     []string{"html", "css", "js", "json", "svg", "txt", "xml"},
	}
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}
	if (opts.Key == "") != (opts.Secret == "") {
		return nil, fmt.Errorf("options key and secret must be set together")
	}
	if s.deps.NewS3Store == nil {
		return nil, fmt.Errorf("no s3 client configured")
	}
	store, err := s.deps.NewS3Store(ctx, S3Connection{
		Key:       opts.Key,
		Secret:    opts.Secret,
		Region:    opts.Region,
		Bucket:    opts.Bucket,
		Endpoint:  opts.Endpoint,
		PathStyle: opts.PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to s3: %w", err)
	}

	gzipTypes := make(map[string]bool, len(opts.GzipTypes))
	for _, t := range opts.GzipTypes {
		gzipTypes[strings.TrimPrefix(strings.ToLower(t), ".")] = true
	}
	var expires time.Time
	if opts.ExpiresIn > 0 {
		expires = now(s.deps).Add(opts.ExpiresIn).UTC().Truncate(time.Second)
	}

	prepare := func(item uploadItem, data []byte) (Object, string, error) {
		obj, sum, err := plainObject(item, data)
		if err != nil {
			return Object{}, "", err
		}
		obj.ACL = opts.Access
		obj.CacheControl = opts.CacheControl
		obj.Expires = expires

		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(item.Src)), ".")
		if opts.Gzip && gzipTypes[ext] {
			zipped, err := gzipBytes(data)
			if err != nil {
				return Object{}, "", err
			}
			obj.Body = bytes.NewReader(zipped)
			obj.Size = int64(len(zipped))
			obj.ContentEncoding = "gzip"
			sum += "+gzip"
		}
		return obj, sum, nil
	}

	u := &uploader{deps: s.deps, inv: inv, store: store, prepare: prepare, parallel: opts.MaxOperations}
	if err := u.run(ctx, collectUploads(inv, opts.Prefix)); err != nil {
		return nil, err
	}
	inv.Logger.Debug("s3 upload finished", "bucket", opts.Bucket)
	return u.output(), nil
}

// gzipBytes compresses data with a zeroed header so identical input gives
// identical output.
func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	return buf.Bytes(), nil
}
