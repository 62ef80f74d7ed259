package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/viant/afs"

	"studybuddy/internal/domain"
)

// Extractor reads PDFs through afs, so the source may be a local path or any
// URL afs understands.
type Extractor struct {
	fs afs.Service
}

func NewExtractor() *Extractor {
	return &Extractor{fs: afs.New()}
}

// Extract returns one Page per PDF page, numbered from 1, together with the
// document information dictionary.
func (e *Extractor) Extract(ctx context.Context, path string) (*domain.Extraction, error) {
	ok, err := e.fs.Exists(ctx, path)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: %s: file not found", domain.ErrExtraction, path)
	}
	data, err := e.fs.DownloadWithURL(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrExtraction, path, err)
	}
	out, err := parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrExtraction, path, err)
	}
	return out, nil
}

// parse guards against the parser panicking on malformed input.
func parse(ctx context.Context, data []byte) (out *domain.Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	n := r.NumPage()
	out = &domain.Extraction{NumPages: n, Pages: make([]domain.Page, 0, n)}

	info := r.Trailer().Key("Info")
	out.Title = strings.TrimSpace(info.Key("Title").Text())
	out.Author = strings.TrimSpace(info.Key("Author").Text())
	out.Subject = strings.TrimSpace(info.Key("Subject").Text())
	out.Creator = strings.TrimSpace(info.Key("Creator").Text())

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := domain.Page{Number: i}
		p := r.Page(i)
		if !p.V.IsNull() {
			text, err := p.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", i, err)
			}
			page.Text = text
		}
		out.Pages = append(out.Pages, page)
	}
	return out, nil
}

var _ domain.Extractor = (*Extractor)(nil)
