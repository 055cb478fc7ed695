package catalog

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stars.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTileFor(t *testing.T) {
	tests := []struct {
		ra, dec float64
		want    int
	}{
		{0, -math.Pi / 2, 0},
		{0, math.Pi / 2, (DecBands-1)*RASlices + 0},
		{2*math.Pi - 1e-9, 0, (DecBands/2)*RASlices + RASlices - 1},
		{-0.1, 0, (DecBands/2)*RASlices + RASlices - 1},
	}
	for _, tc := range tests {
		if got := TileFor(tc.ra, tc.dec); got != tc.want {
			t.Fatalf("TileFor(%g, %g) = %d, want %d", tc.ra, tc.dec, got, tc.want)
		}
	}
}

func TestSeedAndLoadTiles(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.SeedBright(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Seeding twice is a no-op.
	if err := s.SeedBright(ctx); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	tiles, err := s.Tiles(ctx)
	if err != nil {
		t.Fatalf("tiles: %v", err)
	}
	total := 0
	for i, tile := range tiles {
		total += tile.Count
		if i > 0 && tile.MinVmag < tiles[i-1].MinVmag {
			t.Fatalf("tiles not sorted by brightness")
		}
	}
	if total != len(BrightStars()) {
		t.Fatalf("total stars %d, want %d", total, len(BrightStars()))
	}
	if tiles[0].MinVmag != -1.46 {
		t.Fatalf("first tile should hold Sirius, min vmag %g", tiles[0].MinVmag)
	}

	polaris, err := s.StarByHIP(ctx, 11767)
	if err != nil {
		t.Fatalf("polaris: %v", err)
	}
	if polaris.Name != "Polaris" || polaris.OID != StarOID(11767) {
		t.Fatalf("unexpected polaris %+v", polaris)
	}
	stars, err := s.LoadTile(ctx, TileFor(polaris.RA, polaris.Dec), 99)
	if err != nil {
		t.Fatalf("load tile: %v", err)
	}
	found := false
	for _, st := range stars {
		found = found || st.HIP == 11767
	}
	if !found {
		t.Fatalf("polaris missing from its tile")
	}
}

func TestInsertDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	star := Star{HIP: 1, Name: "One", RA: 0.1, Dec: 0.1, Vmag: 5}
	if err := s.InsertStars(ctx, []Star{star}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertStars(ctx, []Star{star}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.InsertStars(ctx, []Star{{Name: "nobody"}}); err == nil {
		t.Fatalf("expected error for star without id")
	}
}

func TestLoadTileMagnitudeCut(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	stars := []Star{
		{HIP: 10, RA: 1, Dec: 0.2, Vmag: 3},
		{HIP: 11, RA: 1, Dec: 0.2, Vmag: 8},
	}
	if err := s.InsertStars(ctx, stars); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.LoadTile(ctx, TileFor(1, 0.2), 6)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].HIP != 10 {
		t.Fatalf("got %+v", got)
	}
}
