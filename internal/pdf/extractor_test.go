package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/domain"
)

// buildPDF assembles a single-page PDF with a correct xref table.
func buildPDF(text, title string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Title (%s) /Author (Tester) >>", title),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 6 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtract_SinglePage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.pdf")
	require.NoError(t, os.WriteFile(path, buildPDF("Hello World", "Cell Biology"), 0o644))

	out, err := NewExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumPages)
	require.Len(t, out.Pages, 1)
	assert.Equal(t, 1, out.Pages[0].Number)
	assert.Contains(t, out.Pages[0].Text, "Hello")
	assert.Equal(t, "Cell Biology", out.Title)
	assert.Equal(t, "Tester", out.Author)
}

func TestExtract_MissingFile(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"))
	assert.ErrorIs(t, err, domain.ErrExtraction)
}

func TestExtract_NotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("just some plain text"), 0o644))

	_, err := NewExtractor().Extract(context.Background(), path)
	assert.ErrorIs(t, err, domain.ErrExtraction)
}
