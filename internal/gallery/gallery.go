// Package gallery keeps the in-memory set of known face embeddings and matches
// new faces against it.
//
// The gallery is rebuilt wholesale from a directory holding one image per
// identity (file name without extension = identity) and published with a
// single atomic pointer swap, so a concurrent Match sees either the old or the
// new set, never a mix.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"watchpost/internal/database"
	"watchpost/internal/detection"
	"watchpost/internal/observability"
)

// DefaultTolerance is the maximum embedding distance that still counts as a match.
const DefaultTolerance = 0.6

var ErrInvalidName = errors.New("invalid identity name")

// Encoder computes face embeddings for an image.
type Encoder interface {
	Encode(ctx context.Context, imageData []byte) ([]detection.Face, error)
}

// Entry is one known identity.
type Entry struct {
	Name      string
	Embedding []float64
}

// Snapshot is an immutable gallery generation.
type Snapshot struct {
	Entries []Entry
}

// Names lists the identities in iteration order.
func (s *Snapshot) Names() []string {
	names := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		names[i] = e.Name
	}
	return names
}

// Match returns the first entry within tolerance, in iteration order.
func (s *Snapshot) Match(embedding []float64, tolerance float64) (string, bool) {
	for _, e := range s.Entries {
		if Distance(e.Embedding, embedding) <= tolerance {
			return e.Name, true
		}
	}
	return "", false
}

// Gallery owns the current snapshot and the source directory.
type Gallery struct {
	dir       string
	encoder   Encoder
	tolerance float64

	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
}

// New creates an empty gallery over dir. Call Reload to populate it.
func New(dir string, encoder Encoder, tolerance float64) (*Gallery, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create known faces dir: %w", err)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	g := &Gallery{dir: dir, encoder: encoder, tolerance: tolerance}
	g.current.Store(&Snapshot{})
	return g, nil
}

// Snapshot returns the currently published generation.
func (g *Gallery) Snapshot() *Snapshot {
	return g.current.Load()
}

// Match compares one embedding against the current generation.
func (g *Gallery) Match(embedding []float64) (string, bool) {
	return g.Snapshot().Match(embedding, g.tolerance)
}

// Len returns the number of identities in the current generation.
func (g *Gallery) Len() int {
	return len(g.Snapshot().Entries)
}

// Reload rebuilds the gallery from disk and publishes it. Images without a
// detectable face are skipped; the first face of every other image is used.
func (g *Gallery) Reload(ctx context.Context) error {
	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	paths, err := g.sourceFiles()
	if err != nil {
		return err
	}

	next := &Snapshot{Entries: make([]Entry, 0, len(paths))}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			log.Printf("[Gallery] Skipping %s: %v", p, err)
			continue
		}
		faces, err := g.encoder.Encode(ctx, data)
		if err != nil {
			log.Printf("[Gallery] Skipping %s: %v", p, err)
			continue
		}
		if len(faces) == 0 {
			log.Printf("[Gallery] No face found in %s", p)
			continue
		}
		next.Entries = append(next.Entries, Entry{
			Name:      identityName(p),
			Embedding: faces[0].Embedding,
		})
	}

	g.current.Store(next)
	observability.GallerySize.Set(float64(len(next.Entries)))
	log.Printf("[Gallery] Loaded %d identities from %s", len(next.Entries), g.dir)
	return nil
}

// Add writes imageData as the source image for name and reloads the gallery.
func (g *Gallery) Add(ctx context.Context, name string, imageData []byte) error {
	path, err := g.pathFor(name)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, imageData, 0o644); err != nil {
		return fmt.Errorf("failed to write face image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to store face image: %w", err)
	}

	return g.Reload(ctx)
}

// KnownNames lists the identities present in the source directory.
func (g *Gallery) KnownNames() ([]string, error) {
	paths, err := g.sourceFiles()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = identityName(p)
	}
	sort.Strings(names)
	return names, nil
}

// sourceFiles lists *.jpg sources oldest first so iteration follows insertion order.
func (g *Gallery) sourceFiles() ([]string, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read known faces dir: %w", err)
	}

	type source struct {
		path string
		mod  int64
	}
	var sources []source
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".jpg") {
			continue
		}
		if strings.EqualFold(identityName(e.Name()), database.UnknownPerson) {
			log.Printf("[Gallery] Ignoring %s: reserved name", e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		sources = append(sources, source{path: filepath.Join(g.dir, e.Name()), mod: info.ModTime().UnixNano()})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].mod != sources[j].mod {
			return sources[i].mod < sources[j].mod
		}
		return sources[i].path < sources[j].path
	})

	paths := make([]string, len(sources))
	for i, s := range sources {
		paths[i] = s.path
	}
	return paths, nil
}

func (g *Gallery) pathFor(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) ||
		strings.EqualFold(name, database.UnknownPerson) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(g.dir, name+".jpg"), nil
}

func identityName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Distance is the euclidean distance between two embeddings. Embeddings of
// different length never match.
func Distance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
