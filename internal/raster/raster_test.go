package raster

import (
	"math"
	"testing"
)

func TestNewFillsNaN(t *testing.T) {
	r := New(2, 2, Bounds{West: 0, South: 0, East: 2, North: 2})
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			if !r.IsNaNAt(row, col) {
				t.Fatalf("expected (%d,%d) to be NaN", row, col)
			}
		}
	}
}

func TestComputeStats(t *testing.T) {
	r := New(2, 2, Bounds{West: 0, South: 0, East: 2, North: 2})
	r.Set(0, 0, 10)
	r.Set(0, 1, 20)
	// (1,0) and (1,1) remain NaN.

	stats := r.ComputeStats()
	if stats.NonNullCount != 2 {
		t.Fatalf("expected 2 non-null pixels, got %d", stats.NonNullCount)
	}
	if stats.Min != 10 || stats.Max != 20 {
		t.Fatalf("expected min=10 max=20, got min=%v max=%v", stats.Min, stats.Max)
	}
	if stats.Mean != 15 {
		t.Fatalf("expected mean=15, got %v", stats.Mean)
	}
}

func TestComputeStats_AllNaN(t *testing.T) {
	r := New(2, 2, Bounds{})
	stats := r.ComputeStats()
	if stats.NonNullCount != 0 {
		t.Fatalf("expected 0 non-null pixels, got %d", stats.NonNullCount)
	}
}

func TestRowColAllNaN(t *testing.T) {
	r := New(3, 3, Bounds{West: 0, South: 0, East: 3, North: 3})
	r.Set(1, 1, 5)

	if !r.RowAllNaN(0) || !r.RowAllNaN(2) {
		t.Error("expected rows 0 and 2 to be all-NaN")
	}
	if r.RowAllNaN(1) {
		t.Error("expected row 1 to have a non-NaN pixel")
	}
	if !r.ColAllNaN(0) || !r.ColAllNaN(2) {
		t.Error("expected cols 0 and 2 to be all-NaN")
	}
	if r.ColAllNaN(1) {
		t.Error("expected col 1 to have a non-NaN pixel")
	}
}

func TestCropRecomputesBounds(t *testing.T) {
	r := New(4, 4, Bounds{West: -4, South: 10, East: 0, North: 14})
	for i := range r.Data {
		r.Data[i] = float32(i)
	}

	cropped := r.Crop(1, 3, 1, 3)
	if cropped.Width != 2 || cropped.Height != 2 {
		t.Fatalf("expected 2x2 crop, got %dx%d", cropped.Width, cropped.Height)
	}
	want := Bounds{West: -3, South: 11, East: -1, North: 13}
	if cropped.Bounds != want {
		t.Fatalf("cropped bounds = %+v, want %+v", cropped.Bounds, want)
	}
	// original (row=1,col=1) should now be (0,0) in the crop.
	if cropped.At(0, 0) != r.At(1, 1) {
		t.Errorf("crop did not preserve pixel values: got %v want %v", cropped.At(0, 0), r.At(1, 1))
	}
}

func TestCellCenterAndPixelSize(t *testing.T) {
	r := New(2, 2, Bounds{West: 0, South: 0, East: 2, North: 2})
	dx, dy := r.PixelSize()
	if dx != 1 || dy != 1 {
		t.Fatalf("expected 1-degree pixels, got dx=%v dy=%v", dx, dy)
	}
	lon, lat := r.CellCenter(0, 0)
	if lon != 0.5 || lat != 1.5 {
		t.Fatalf("expected center (0.5, 1.5) for top-left pixel, got (%v, %v)", lon, lat)
	}
}

func TestAspectRatio(t *testing.T) {
	r := New(8, 1, Bounds{})
	if math.Abs(r.AspectRatio()-8.0) > 1e-9 {
		t.Fatalf("expected aspect ratio 8.0, got %v", r.AspectRatio())
	}
}
