// Package source brings documents onto local disk and validates them before
// they are opened for preview.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/printpreview/internal/filetype"
	"github.com/local/printpreview/internal/storage"
)

var (
	ErrNotPDF     = errors.New("only PDF files can be printed")
	ErrEmptyFile  = errors.New("file is empty")
	ErrInvalidRef = errors.New("invalid document reference")
	ErrTooLarge   = errors.New("document exceeds the size limit")
)

// Temp file name prefixes created by Fetch.
const (
	httpPrefix = "pdfdl-"
	s3Prefix   = "s3pdf-"
)

// Document is a local file ready to be opened.
type Document struct {
	Path string
	Name string
	// Temp is true when the file was downloaded and should be removed by the
	// caller once it is no longer needed.
	Temp bool
}

// Fetcher resolves document references.
// Supports:
// - file://path or absolute/relative filesystem paths
// - http(s):// URLs (downloads to temp)
// - s3://bucket/key (downloads to temp via the S3 downloader)
//
// Remote documents larger than MaxBytes are refused with ErrTooLarge; zero
// means no limit.
type Fetcher struct {
	HTTP     *http.Client
	S3       *storage.S3Client
	TempDir  string
	MaxBytes int64
}

func (f *Fetcher) Fetch(ctx context.Context, ref string) (Document, error) {
	// Strip optional #page fragment if present
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Document{}, ErrInvalidRef
	}

	var doc Document
	var err error
	switch {
	case strings.HasPrefix(ref, "s3://"):
		doc, err = f.fetchS3(ctx, ref)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		doc, err = f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		p := strings.TrimPrefix(ref, "file://")
		doc = Document{Path: p, Name: filepath.Base(p)}
	default:
		doc = Document{Path: ref, Name: filepath.Base(ref)}
	}
	if err != nil {
		return Document{}, err
	}
	if err := CheckPDF(doc.Path); err != nil {
		if doc.Temp {
			_ = os.Remove(doc.Path)
		}
		return Document{}, err
	}
	return doc, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) (Document, error) {
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("http %d", resp.StatusCode)
	}
	if f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return Document{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	tmp, err := os.CreateTemp(f.TempDir, httpPrefix+"*.pdf")
	if err != nil {
		return Document{}, err
	}
	defer tmp.Close()
	var body io.Reader = resp.Body
	if f.MaxBytes > 0 {
		// one extra byte tells an oversized body from one exactly at the limit
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return Document{}, err
	}
	if f.MaxBytes > 0 && n > f.MaxBytes {
		_ = os.Remove(tmp.Name())
		return Document{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.MaxBytes)
	}
	name := filepath.Base(req.URL.Path)
	if name == "" || name == "/" || name == "." {
		name = "document.pdf"
	}
	return Document{Path: tmp.Name(), Name: name, Temp: true}, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, s3url string) (Document, error) {
	// s3://bucket/key
	path := strings.TrimPrefix(s3url, "s3://")
	slash := strings.Index(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return Document{}, fmt.Errorf("%w: %s", ErrInvalidRef, s3url)
	}
	if f.S3 == nil {
		return Document{}, fmt.Errorf("%w: s3 storage not configured", ErrInvalidRef)
	}
	bucket, key := path[:slash], path[slash+1:]
	if f.MaxBytes > 0 {
		size, err := f.S3.Size(ctx, bucket, key)
		if err != nil {
			return Document{}, err
		}
		if size > f.MaxBytes {
			return Document{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
		}
	}

	// Ensure .pdf extension for pdfcpu expectations
	tmp, err := os.CreateTemp(f.TempDir, s3Prefix+"*.pdf")
	if err != nil {
		return Document{}, err
	}
	defer tmp.Close()
	n, err := f.S3.Download(ctx, bucket, key, tmp)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return Document{}, err
	}
	if f.MaxBytes > 0 && n > f.MaxBytes {
		_ = os.Remove(tmp.Name())
		return Document{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	return Document{Path: tmp.Name(), Name: filepath.Base(key), Temp: true}, nil
}

// CheckPDF rejects files whose magic bytes are not PDF.
func CheckPDF(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.Size() == 0 {
		return ErrEmptyFile
	}
	info, err := filetype.Detect(path)
	if err != nil {
		return err
	}
	if !info.Printable {
		return fmt.Errorf("%w: %s", ErrNotPDF, info.Description)
	}
	return nil
}

// CountPages returns the number of pages of the PDF at path.
func CountPages(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

// Spool stores uploaded files under Dir.
type Spool struct {
	Dir string
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeName keeps the base name, replaces anything outside [A-Za-z0-9._-]
// and ensures a .pdf suffix.
func SanitizeName(name string) string {
	base := strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if base == "." || base == "/" {
		base = ""
	}
	base = strings.ReplaceAll(base, " ", "_")
	base = unsafeName.ReplaceAllString(base, "_")
	if base == "" {
		return "document.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(base), ".pdf") {
		base += ".pdf"
	}
	return base
}

// Save writes r to <uuid>_<sanitized name> and validates it is a PDF.
func (s *Spool) Save(r io.Reader, name string) (Document, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Document{}, fmt.Errorf("create spool dir: %w", err)
	}
	clean := SanitizeName(name)
	path := filepath.Join(s.Dir, strings.ReplaceAll(uuid.NewString(), "-", "")+"_"+clean)

	f, err := os.Create(path)
	if err != nil {
		return Document{}, fmt.Errorf("create spool file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return Document{}, fmt.Errorf("write spool file: %w", err)
	}
	if n == 0 {
		_ = os.Remove(path)
		return Document{}, ErrEmptyFile
	}
	if err := CheckPDF(path); err != nil {
		_ = os.Remove(path)
		return Document{}, err
	}
	log.Debug().Str("file", clean).Int64("bytes", n).Msg("spooled upload")
	return Document{Path: path, Name: clean}, nil
}

// CleanupTemps removes files in dir created by Fetch that are older than
// maxAge and returns how many were removed. An empty dir means os.TempDir().
func CleanupTemps(dir string, maxAge time.Duration) int {
	if dir == "" {
		dir = os.TempDir()
	}
	now := time.Now()
	removed := 0
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasPrefix(name, httpPrefix) || strings.HasPrefix(name, s3Prefix)) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) >= maxAge {
			if os.Remove(filepath.Join(dir, name)) == nil {
				removed++
			}
		}
	}
	return removed
}
