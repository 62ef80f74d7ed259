package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"studybuddy/internal/domain"
	"studybuddy/internal/vectorstore"
)

// Storage is an in-memory vector store using brute-force cosine distance.
// When a snapshot URL is configured, every mutation is written through to it
// and the snapshot is loaded on startup.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*collection
	snapshotURL string
	fs          afs.Service
}

type collection struct {
	Dimension int                  `json:"dimension"`
	Records   []vectorstore.Record `json:"records"`
}

// NewStorage creates an empty store. snapshotURL may be empty to keep everything in memory.
func NewStorage(ctx context.Context, snapshotURL string) (*Storage, error) {
	s := &Storage{
		collections: make(map[string]*collection),
		snapshotURL: snapshotURL,
		fs:          afs.New(),
	}
	if err := s.load(ctx); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return s, nil
}

func (s *Storage) CreateCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil
	}
	return s.commit(ctx, name, &collection{Dimension: dimension})
}

func (s *Storage) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		return vectorstore.ErrCollectionNotFound
	}
	return s.commit(ctx, name, nil)
}

func (s *Storage) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *Storage) Upsert(ctx context.Context, name string, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return vectorstore.ErrCollectionNotFound
	}
	for _, r := range records {
		if len(r.Vector) != c.Dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	next := &collection{Dimension: c.Dimension, Records: append([]vectorstore.Record(nil), c.Records...)}
	pos := make(map[string]int, len(next.Records))
	for i, r := range next.Records {
		pos[r.ID] = i
	}
	for _, r := range records {
		if i, ok := pos[r.ID]; ok {
			next.Records[i] = r
			continue
		}
		pos[r.ID] = len(next.Records)
		next.Records = append(next.Records, r)
	}
	return s.commit(ctx, name, next)
}

func (s *Storage) Search(_ context.Context, name string, vector []float32, n int, filter domain.Filter) ([]domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, vectorstore.ErrCollectionNotFound
	}
	if n <= 0 {
		return nil, nil
	}
	matches := make([]domain.Match, 0, len(c.Records))
	for _, r := range c.Records {
		if !matchesFilter(r.Metadata, filter) {
			continue
		}
		matches = append(matches, domain.Match{
			ID:       r.ID,
			Text:     r.Text,
			Metadata: r.Metadata,
			Distance: cosineDistance(vector, r.Vector),
		})
	}
	// ties keep insertion order
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if n < len(matches) {
		matches = matches[:n]
	}
	return matches, nil
}

func (s *Storage) Delete(ctx context.Context, name string, filter domain.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return vectorstore.ErrCollectionNotFound
	}
	kept := make([]vectorstore.Record, 0, len(c.Records))
	for _, r := range c.Records {
		if !matchesFilter(r.Metadata, filter) {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(c.Records) {
		return nil
	}
	return s.commit(ctx, name, &collection{Dimension: c.Dimension, Records: kept})
}

func (s *Storage) Count(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, vectorstore.ErrCollectionNotFound
	}
	return len(c.Records), nil
}

func (s *Storage) Close() error { return nil }

// load must be called before the store is shared.
func (s *Storage) load(ctx context.Context) error {
	if s.snapshotURL == "" {
		return nil
	}
	if ok, _ := s.fs.Exists(ctx, s.snapshotURL); !ok {
		return nil
	}
	data, err := s.fs.DownloadWithURL(ctx, s.snapshotURL)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.collections)
}

// commit replaces collection name with next (nil removes it). The snapshot is
// written first; on failure the in-memory state is left untouched.
// Called with the write lock held.
func (s *Storage) commit(ctx context.Context, name string, next *collection) error {
	updated := make(map[string]*collection, len(s.collections)+1)
	for k, v := range s.collections {
		updated[k] = v
	}
	if next == nil {
		delete(updated, name)
	} else {
		updated[name] = next
	}
	if err := s.persist(ctx, updated); err != nil {
		return err
	}
	s.collections = updated
	return nil
}

func (s *Storage) persist(ctx context.Context, collections map[string]*collection) error {
	if s.snapshotURL == "" {
		return nil
	}
	data, err := json.Marshal(collections)
	if err != nil {
		return err
	}
	if ok, _ := s.fs.Exists(ctx, s.snapshotURL); ok {
		_ = s.fs.Delete(ctx, s.snapshotURL)
	}
	return s.fs.Upload(ctx, s.snapshotURL, file.DefaultFileOsMode, bytes.NewReader(data))
}

func matchesFilter(meta domain.PassageMetadata, f domain.Filter) bool {
	if f.IsZero() {
		return true
	}
	return meta.DocumentID == f.DocumentID
}

// cosineDistance is 1 - cos(a, b). A zero vector is at distance 1 from everything.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	return math.Min(2, math.Max(0, d))
}

var _ vectorstore.Backend = (*Storage)(nil)
