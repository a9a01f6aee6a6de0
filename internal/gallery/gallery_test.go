package gallery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"watchpost/internal/detection"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeEncoder maps image contents of the form "x,y" to a 2-d embedding.
// "noface" yields no faces and "broken" fails.
type fakeEncoder struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (f *fakeEncoder) Encode(_ context.Context, data []byte) ([]detection.Face, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	switch s := string(data); s {
	case "noface":
		return nil, nil
	case "broken":
		return nil, errors.New("encoder unavailable")
	default:
		var x, y float64
		parts := strings.Split(s, ",")
		if len(parts) == 2 {
			x = parseFloat(parts[0])
			y = parseFloat(parts[1])
		}
		return []detection.Face{
			{Embedding: []float64{x, y}},
			{Embedding: []float64{99, 99}},
		}, nil
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func writeSource(t *testing.T, dir, name, body string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	mt := time.Now().Add(-age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
}

func TestGalleryReloadAndMatch(t *testing.T) {
	Convey("Given a directory of identity images", t, func() {
		dir := t.TempDir()
		writeSource(t, dir, "alice.jpg", "0,0", 3*time.Hour)
		writeSource(t, dir, "bob.jpg", "0,0", 2*time.Hour)
		writeSource(t, dir, "carol.jpg", "5,5", time.Hour)
		writeSource(t, dir, "empty.jpg", "noface", time.Hour)
		writeSource(t, dir, "bad.jpg", "broken", time.Hour)
		writeSource(t, dir, "notes.txt", "0,0", time.Hour)
		writeSource(t, dir, "Unknown.jpg", "9,9", 4*time.Hour)

		g, err := New(dir, &fakeEncoder{}, DefaultTolerance)
		So(err, ShouldBeNil)
		So(g.Len(), ShouldEqual, 0)

		Convey("When the gallery is reloaded", func() {
			So(g.Reload(context.Background()), ShouldBeNil)

			Convey("Then only named images with a face are loaded, oldest first", func() {
				So(g.Snapshot().Names(), ShouldResemble, []string{"alice", "bob", "carol"})
			})

			Convey("Then the first face of each image is used", func() {
				So(g.Snapshot().Entries[2].Embedding, ShouldResemble, []float64{5, 5})
			})

			Convey("Then ties are broken by iteration order", func() {
				name, ok := g.Match([]float64{0.1, 0.1})
				So(ok, ShouldBeTrue)
				So(name, ShouldEqual, "alice")
			})

			Convey("Then a face beyond tolerance is unknown", func() {
				_, ok := g.Match([]float64{2, 2})
				So(ok, ShouldBeFalse)
			})

			Convey("Then the tolerance boundary is inclusive", func() {
				name, ok := g.Match([]float64{5.6, 5})
				So(ok, ShouldBeTrue)
				So(name, ShouldEqual, "carol")
			})
		})

		Convey("When KnownNames is listed", func() {
			names, err := g.KnownNames()
			So(err, ShouldBeNil)
			So(names, ShouldResemble, []string{"alice", "bad", "bob", "carol", "empty"})
		})
	})
}

func TestGalleryAdd(t *testing.T) {
	Convey("Given an empty gallery", t, func() {
		dir := t.TempDir()
		g, err := New(dir, &fakeEncoder{}, DefaultTolerance)
		So(err, ShouldBeNil)

		Convey("When an identity is added", func() {
			So(g.Add(context.Background(), "Alice", []byte("3,4")), ShouldBeNil)

			Convey("Then it is written to disk and matched immediately", func() {
				_, err := os.Stat(filepath.Join(dir, "Alice.jpg"))
				So(err, ShouldBeNil)
				name, ok := g.Match([]float64{3, 4})
				So(ok, ShouldBeTrue)
				So(name, ShouldEqual, "Alice")
			})

			Convey("Then no temporary file is left behind", func() {
				_, err := os.Stat(filepath.Join(dir, "Alice.jpg.tmp"))
				So(os.IsNotExist(err), ShouldBeTrue)
			})
		})

		Convey("When a name is unusable", func() {
			for _, name := range []string{"", "  ", "..", "../evil", `a\b`, "Unknown", "unknown"} {
				err := g.Add(context.Background(), name, []byte("1,1"))
				So(errors.Is(err, ErrInvalidName), ShouldBeTrue)
			}
			So(g.Len(), ShouldEqual, 0)
		})
	})
}

func TestGalleryReloadIsAtomic(t *testing.T) {
	Convey("Given a gallery with one identity", t, func() {
		dir := t.TempDir()
		enc := &fakeEncoder{}
		g, err := New(dir, enc, DefaultTolerance)
		So(err, ShouldBeNil)
		writeSource(t, dir, "alice.jpg", "0,0", time.Hour)
		So(g.Reload(context.Background()), ShouldBeNil)

		oldNames := []string{"alice"}
		newNames := []string{"alice", "bob", "carol"}

		Convey("When identities are added while matches run concurrently", func() {
			enc.delay = 2 * time.Millisecond
			writeSource(t, dir, "bob.jpg", "20,20", 30*time.Minute)

			var wg sync.WaitGroup
			stop := make(chan struct{})
			var mu sync.Mutex
			var violations []string

			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
						}
						snap := g.Snapshot()
						names := snap.Names()
						name, ok := snap.Match([]float64{40, 40}, DefaultTolerance)
						consistentOld := equalNames(names, oldNames) && !ok
						consistentNew := equalNames(names, newNames) && ok && name == "carol"
						if !consistentOld && !consistentNew {
							mu.Lock()
							violations = append(violations, strings.Join(names, ","))
							mu.Unlock()
						}
					}
				}()
			}

			err := g.Add(context.Background(), "carol", []byte("40,40"))
			close(stop)
			wg.Wait()

			Convey("Then every match saw the fully old or fully new gallery", func() {
				So(err, ShouldBeNil)
				So(violations, ShouldBeEmpty)
				So(g.Snapshot().Names(), ShouldResemble, newNames)
			})
		})
	})
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2}, []float64{1, 2}, 0},
		{"pythagorean", []float64{0, 0}, []float64{3, 4}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Distance(tt.a, tt.b); got != tt.want {
				t.Errorf("Distance = %v, want %v", got, tt.want)
			}
		})
	}
	if d := Distance([]float64{1}, []float64{1, 2}); d <= DefaultTolerance {
		t.Errorf("mismatched lengths matched with distance %v", d)
	}
}
