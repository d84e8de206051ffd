// Package rasterize renders PDF pages with MuPDF through go-fitz.
package rasterize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/printpreview/internal/viewport"
)

// BaseDPI is the resolution at which page bounds are reported (PDF points).
const BaseDPI = 72.0

var ErrClosed = errors.New("document closed")

// Document is an open PDF. MuPDF contexts are not safe for concurrent use, so
// every call is serialized.
type Document struct {
	mu    sync.Mutex
	doc   *fitz.Document
	path  string
	pages int
}

// Open opens the PDF at path.
func Open(path string) (*Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	n := doc.NumPage()
	if n <= 0 {
		doc.Close()
		return nil, fmt.Errorf("PDF has no pages: %s", path)
	}
	log.Debug().Str("file", path).Int("pages", n).Msg("opened document for rasterization")
	return &Document{doc: doc, path: path, pages: n}, nil
}

func (d *Document) Path() string  { return d.path }
func (d *Document) PageCount() int { return d.pages }

func (d *Document) checkPage(page int) error {
	if page < 1 || page > d.pages {
		return fmt.Errorf("page %d out of range (document has %d pages)", page, d.pages)
	}
	return nil
}

// PageAspect returns the natural page size in points.
func (d *Document) PageAspect(ctx context.Context, page int) (viewport.Size, error) {
	if err := ctx.Err(); err != nil {
		return viewport.Size{}, err
	}
	if err := d.checkPage(page); err != nil {
		return viewport.Size{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return viewport.Size{}, ErrClosed
	}
	// go-fitz uses 0-based indexing
	b, err := d.doc.Bound(page - 1)
	if err != nil {
		return viewport.Size{}, fmt.Errorf("failed to read bounds of page %d: %w", page, err)
	}
	return viewport.Size{Width: float64(b.Dx()), Height: float64(b.Dy())}, nil
}

// RenderPage rasterizes page at scale times its natural size.
func (d *Document) RenderPage(ctx context.Context, page int, scale float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.checkPage(page); err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, fmt.Errorf("invalid render scale %v", scale)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil, ErrClosed
	}
	img, err := d.doc.ImageDPI(page-1, BaseDPI*scale)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}
	log.Debug().
		Int("page", page).
		Float64("scale", scale).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("rendered page")
	return img, nil
}

// Close releases the MuPDF document. Further calls return ErrClosed.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	return err
}
