package catalog

import (
	"context"
	"math"
)

const deg = math.Pi / 180

// brightStars is a small naked eye set: HIP number, name, RA and Dec in
// degrees (J2000), visual magnitude.
var brightStars = []struct {
	hip     int
	name    string
	ra, dec float64
	vmag    float64
}{
	{32349, "Sirius", 101.287, -16.716, -1.46},
	{30438, "Canopus", 95.988, -52.696, -0.74},
	{69673, "Arcturus", 213.915, 19.182, -0.05},
	{91262, "Vega", 279.235, 38.784, 0.03},
	{24608, "Capella", 79.172, 45.998, 0.08},
	{24436, "Rigel", 78.634, -8.202, 0.13},
	{37279, "Procyon", 114.825, 5.225, 0.34},
	{27989, "Betelgeuse", 88.793, 7.407, 0.42},
	{7588, "Achernar", 24.429, -57.237, 0.46},
	{97649, "Altair", 297.696, 8.868, 0.76},
	{21421, "Aldebaran", 68.980, 16.509, 0.86},
	{80763, "Antares", 247.352, -26.432, 0.91},
	{65474, "Spica", 201.298, -11.161, 0.97},
	{37826, "Pollux", 116.329, 28.026, 1.14},
	{113368, "Fomalhaut", 344.413, -29.622, 1.16},
	{102098, "Deneb", 310.358, 45.280, 1.25},
	{49669, "Regulus", 152.093, 11.967, 1.40},
	{36850, "Castor", 113.650, 31.888, 1.58},
	{25336, "Bellatrix", 81.283, 6.350, 1.64},
	{26311, "Alnilam", 84.053, -1.202, 1.69},
	{26727, "Alnitak", 85.190, -1.943, 1.74},
	{54061, "Dubhe", 165.932, 61.751, 1.79},
	{67301, "Alkaid", 206.885, 49.313, 1.85},
	{11767, "Polaris", 37.955, 89.264, 1.98},
	{677, "Alpheratz", 2.097, 29.090, 2.06},
	{27366, "Saiph", 86.939, -9.670, 2.07},
	{25930, "Mintaka", 83.002, -0.299, 2.25},
	{53910, "Merak", 165.460, 56.382, 2.37},
}

// BrightStars returns the built in bright star list.
func BrightStars() []Star {
	out := make([]Star, len(brightStars))
	for i, b := range brightStars {
		out[i] = Star{
			OID:  StarOID(b.hip),
			HIP:  b.hip,
			Name: b.name,
			RA:   b.ra * deg,
			Dec:  b.dec * deg,
			Vmag: b.vmag,
		}
	}
	return out
}

// SeedBright inserts the built in bright stars into an empty catalog.
func (s *Store) SeedBright(ctx context.Context) error {
	tiles, err := s.Tiles(ctx)
	if err != nil {
		return err
	}
	if len(tiles) > 0 {
		return nil
	}
	return s.InsertStars(ctx, BrightStars())
}
