// Package fetch downloads and decodes images for the prefetch buffer.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/fluxorio/feedbuffer/pkg/httpx"
	"github.com/fluxorio/feedbuffer/pkg/prefetch"
)

// ImageFetcher downloads a reference over HTTP and decodes it as JPEG, PNG or
// GIF. It implements prefetch.Fetcher[image.Image].
type ImageFetcher struct {
	client  httpx.Doer
	timeout time.Duration
	maxDim  int
}

// Config configures an ImageFetcher.
type Config struct {
	// Timeout bounds a download when the caller's context has no deadline.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxDimension rejects images wider or taller than this before decoding
	// the pixel data. Zero disables the check.
	MaxDimension int `yaml:"max_dimension" json:"max_dimension"`
}

// NewImageFetcher creates an ImageFetcher.
func NewImageFetcher(client httpx.Doer, cfg Config) *ImageFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ImageFetcher{client: client, timeout: cfg.Timeout, maxDim: cfg.MaxDimension}
}

// Fetch implements prefetch.Fetcher.
func (f *ImageFetcher) Fetch(ctx context.Context, ref prefetch.Reference) (image.Image, error) {
	body, err := httpx.Get(ctx, f.client, string(ref), f.timeout)
	if err != nil {
		return nil, err
	}

	if f.maxDim > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("fetch: decode %s: %w", ref, err)
		}
		if cfg.Width > f.maxDim || cfg.Height > f.maxDim {
			return nil, fmt.Errorf("fetch: %s is %dx%d, larger than %d", ref, cfg.Width, cfg.Height, f.maxDim)
		}
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fetch: decode %s: %w", ref, err)
	}
	return img, nil
}

var (
	endBackground = color.RGBA{R: 0x1e, G: 0x1e, B: 0x24, A: 0xff}
	endStripe     = color.RGBA{R: 0xe0, G: 0x60, B: 0x40, A: 0xff}
)

// EndOfFeedImage returns a sentinel provider drawing the "no more images"
// card: a dark field crossed by a diagonal stripe.
func EndOfFeedImage(width, height int) prefetch.SentinelFunc[image.Image] {
	return func() (image.Image, error) {
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("fetch: invalid sentinel size %dx%d", width, height)
		}

		img := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(img, img.Bounds(), &image.Uniform{C: endBackground}, image.Point{}, draw.Src)

		thickness := max(min(width, height)/12, 1)
		for y := 0; y < height; y++ {
			center := y * width / height
			for x := max(center-thickness, 0); x <= min(center+thickness, width-1); x++ {
				img.SetRGBA(x, y, endStripe)
			}
		}
		return img, nil
	}
}
