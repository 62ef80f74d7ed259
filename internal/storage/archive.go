package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"studybuddy/internal/domain"
)

// Archive keeps a copy of every ingested PDF as {baseURL}/{document_id}.pdf.
type Archive struct {
	baseURL string
	fs      afs.Service
}

// NewArchive creates the archive directory if it does not exist.
func NewArchive(ctx context.Context, baseURL string) (*Archive, error) {
	a := &Archive{baseURL: baseURL, fs: afs.New()}
	if ok, _ := a.fs.Exists(ctx, baseURL); !ok {
		if err := a.fs.Create(ctx, baseURL, 0o755, true); err != nil {
			return nil, fmt.Errorf("create archive %s: %w", baseURL, err)
		}
	}
	return a, nil
}

// URL returns where the archived copy of documentID lives.
func (a *Archive) URL(documentID string) string {
	return url.Join(a.baseURL, documentID+".pdf")
}

// Store copies src into the archive unless it already is the archived copy.
func (a *Archive) Store(ctx context.Context, src, documentID string) (string, error) {
	dst := a.URL(documentID)
	if sameLocation(src, dst) {
		return dst, nil
	}
	if err := a.fs.Copy(ctx, src, dst); err != nil {
		return "", fmt.Errorf("archive %s: %w", src, err)
	}
	return dst, nil
}

// Remove deletes the archived copy. Removing a missing copy is not an error.
func (a *Archive) Remove(ctx context.Context, documentID string) (bool, error) {
	dst := a.URL(documentID)
	ok, err := a.fs.Exists(ctx, dst)
	if err != nil || !ok {
		return false, nil
	}
	if err := a.fs.Delete(ctx, dst); err != nil {
		return false, fmt.Errorf("remove %s: %w", dst, err)
	}
	return true, nil
}

// List returns every archived PDF sorted by document id.
func (a *Archive) List(ctx context.Context) ([]domain.ArchivedFile, error) {
	objects, err := a.fs.List(ctx, a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", a.baseURL, err)
	}
	var out []domain.ArchivedFile
	for _, obj := range objects {
		if obj.IsDir() || !strings.EqualFold(path.Ext(obj.Name()), ".pdf") {
			continue
		}
		out = append(out, domain.ArchivedFile{
			DocumentID: strings.TrimSuffix(obj.Name(), path.Ext(obj.Name())),
			Filename:   obj.Name(),
			SizeBytes:  obj.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func sameLocation(a, b string) bool {
	return url.Normalize(a, file.Scheme) == url.Normalize(b, file.Scheme)
}
