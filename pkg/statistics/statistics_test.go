package statistics

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lemonberrylabs/bindc/pkg/datacontext"
)

func TestGetProvider(t *testing.T) {
	tests := []struct {
		folder   string
		wantNop  bool
		wantPath string
	}{
		{"", true, ""},
		{"   ", true, ""},
		{"\t\n", true, ""},
		{"C:/stats", false, "C:/stats"},
		{"/var/lib/bindc", false, "/var/lib/bindc"},
	}

	for _, tt := range tests {
		t.Run(tt.folder, func(t *testing.T) {
			p := GetProvider(Config{StatisticsFolder: tt.folder})
			if tt.wantNop {
				if _, ok := p.(NopProvider); !ok {
					t.Fatalf("got %T, want NopProvider", p)
				}
				return
			}
			fp, ok := p.(*FolderProvider)
			if !ok {
				t.Fatalf("got %T, want *FolderProvider", p)
			}
			if fp.Folder() != tt.wantPath {
				t.Errorf("got folder %q, want %q", fp.Folder(), tt.wantPath)
			}
		})
	}
}

func TestNopProvider(t *testing.T) {
	p := NopProvider{}
	p.RecordCompilation("x", nil, time.Second, nil)
	if diff := cmp.Diff(Snapshot{}, p.Snapshot()); diff != "" {
		t.Errorf("unexpected snapshot (-want +got):\n%s", diff)
	}
	if err := p.Flush(); err != nil {
		t.Errorf("Flush: %v", err)
	}
}

type page struct{}

func TestFolderProviderFlush(t *testing.T) {
	dir := t.TempDir() + "/nested"
	p := NewFolderProvider(dir)
	stack := datacontext.New(reflect.TypeOf(page{}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%5 == 0 {
				err = errors.New("bad binding")
			}
			p.RecordCompilation("Title", stack, time.Millisecond, err)
		}(i)
	}
	wg.Wait()

	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Compilations != 10 || got.Failures != 2 {
		t.Errorf("got %d compilations, %d failures", got.Compilations, got.Failures)
	}
	if got.Contexts["statistics.page"] != 10 {
		t.Errorf("unexpected contexts %v", got.Contexts)
	}
	if got.TotalMillis < 9.9 || got.TotalMillis > 10.1 {
		t.Errorf("got total %v ms", got.TotalMillis)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	p := NewFolderProvider(t.TempDir())
	s := p.Snapshot()
	s.Contexts["x"] = 1
	if len(p.Snapshot().Contexts) != 0 {
		t.Error("snapshot shares state with the provider")
	}
}
