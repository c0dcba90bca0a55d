package stage

import (
	"bytes"
	"context"
	"fmt"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"mailbuild/internal/pipeline"
)

// Imagemin re-encodes PNG and GIF images and keeps the result only when it is
// smaller than the original. JPEGs are re-encoded only when jpeg_quality is
// set, since that loses detail. Other files are copied unchanged.
type Imagemin struct{}

type imageminOptions struct {
	OptimizationLevel int `mapstructure:"optimization_level" validate:"min=0,max=7"`
	JPEGQuality       int `mapstructure:"jpeg_quality" validate:"omitempty,min=1,max=100"`
}

func (m *Imagemin) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	opts := imageminOptions{OptimizationLevel: 3}
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}

	saved := 0
	n, err := transform(inv, func(src string, data []byte) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := optimizeImage(src, data, opts)
		if err != nil {
			return nil, err
		}
		saved += len(data) - len(out)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return &pipeline.Output{Files: n, Status: fmt.Sprintf("saved %d bytes", saved)}, nil
}

func optimizeImage(name string, data []byte, opts imageminOptions) ([]byte, error) {
	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding png: %w", err)
		}
		enc := png.Encoder{CompressionLevel: pngCompression(opts.OptimizationLevel)}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	case ".jpg", ".jpeg":
		if opts.JPEGQuality == 0 {
			return data, nil
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding jpeg: %w", err)
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	case ".gif":
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding gif: %w", err)
		}
		if err := gif.EncodeAll(&buf, g); err != nil {
			return nil, fmt.Errorf("encoding gif: %w", err)
		}
	default:
		return data, nil
	}

	if buf.Len() >= len(data) {
		return data, nil
	}
	return buf.Bytes(), nil
}

func pngCompression(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 2:
		return png.BestSpeed
	case level <= 4:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
