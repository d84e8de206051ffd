// Package pdftest writes small, structurally valid PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Letter and A4 page boxes in points.
var (
	Letter = [2]float64{612, 792}
	A4     = [2]float64{595, 842}
)

// Build returns a PDF with one blank page per media box. Each page draws a
// filled rectangle so rasterized output is not uniformly white.
func Build(pages ...[2]float64) []byte {
	if len(pages) == 0 {
		pages = [][2]float64{Letter}
	}
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	// 1 catalog, 2 page tree, then a page and content object per page
	kids := &bytes.Buffer{}
	for i := range pages {
		fmt.Fprintf(kids, "%d 0 R ", 3+i*2)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", bytes.TrimSpace(kids.Bytes()), len(pages)))
	for i, box := range pages {
		content := fmt.Sprintf("0.5 g 36 36 %.0f %.0f re f", box[0]/2, box[1]/2)
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %.0f %.0f] /Resources << >> /Contents %d 0 R >>",
			box[0], box[1], 4+i*2))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// Pages returns n Letter-sized boxes.
func Pages(n int) [][2]float64 {
	out := make([][2]float64, n)
	for i := range out {
		out[i] = Letter
	}
	return out
}

// WriteFile writes Build(pages...) into a temp dir owned by t.
func WriteFile(t testing.TB, name string, pages ...[2]float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, Build(pages...), 0o644); err != nil {
		t.Fatalf("write pdf fixture: %v", err)
	}
	return path
}
