// Package render rasterizes document pages through MuPDF.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/kailas-cloud/docbench/internal/domain"
)

// Format is the encoding of rendered page images.
type Format string

// Supported formats.
const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

const (
	defaultDPI         = 72
	defaultJPEGQuality = 90
)

// Rasterizer opens documents with go-fitz and renders pages at a fixed DPI.
type Rasterizer struct {
	dpi     float64
	format  Format
	quality int
}

// Option configures a Rasterizer.
type Option func(*Rasterizer)

// WithFormat sets the output encoding.
func WithFormat(f Format) Option {
	return func(r *Rasterizer) { r.format = f }
}

// WithJPEGQuality sets the JPEG quality (1-100).
func WithJPEGQuality(q int) Option {
	return func(r *Rasterizer) {
		if q > 0 && q <= 100 {
			r.quality = q
		}
	}
}

// New creates a Rasterizer. dpi <= 0 falls back to 72.
func New(dpi float64, opts ...Option) *Rasterizer {
	if dpi <= 0 {
		dpi = defaultDPI
	}
	r := &Rasterizer{dpi: dpi, format: FormatPNG, quality: defaultJPEGQuality}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ParseFormat maps a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPNG:
		return FormatPNG, nil
	case FormatJPEG, "jpg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("unknown image format %q", s)
	}
}

// Open implements domain.Rasterizer.
func (r *Rasterizer) Open(path string) (domain.PageSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrRender, path, err)
	}
	return &document{doc: doc, path: path, r: r}, nil
}

// RenderPage opens path, renders one page and closes the document.
func (r *Rasterizer) RenderPage(path string, page int) ([]byte, error) {
	src, err := r.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return src.RenderPage(page)
}

// document wraps a fitz.Document. MuPDF contexts are not safe for
// concurrent use, so rendering is serialized per document.
type document struct {
	mu   sync.Mutex
	doc  *fitz.Document
	path string
	r    *Rasterizer
}

func (d *document) NumPages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.NumPage()
}

func (d *document) RenderPage(page int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if page < 0 || page >= d.doc.NumPage() {
		return nil, fmt.Errorf("%w: %s page %d out of range [0,%d)", domain.ErrRender, d.path, page, d.doc.NumPage())
	}
	img, err := d.doc.ImageDPI(page, d.r.dpi)
	if err != nil {
		return nil, fmt.Errorf("%w: %s page %d: %w", domain.ErrRender, d.path, page, err)
	}
	return d.r.encode(img)
}

func (d *document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}

func (r *Rasterizer) encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", domain.ErrRender)
	}
	var buf bytes.Buffer
	var err error
	switch r.format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality})
	case FormatPNG:
		err = png.Encode(&buf, img)
	default:
		err = errors.New("unsupported format " + string(r.format))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", domain.ErrRender, err)
	}
	return buf.Bytes(), nil
}
