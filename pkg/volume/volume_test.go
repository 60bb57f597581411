package volume

import "testing"

// TestIndexCoordsRoundTrip verifies that Index and Coords are inverses
func TestIndexCoordsRoundTrip(t *testing.T) {
	v := New(4, 3, 5, 1, 1)
	for i := 0; i < v.Numel(); i++ {
		x, y, z := v.Coords(i)
		if got := v.Index(x, y, z); got != i {
			t.Errorf("Index(Coords(%d)) = %d", i, got)
		}
	}
}

// TestChannelLayout checks that channels are stored contiguously
func TestChannelLayout(t *testing.T) {
	v := New(2, 2, 1, 2, 2)
	if v.Channels() != 4 {
		t.Fatalf("Expected 4 channels, got %d", v.Channels())
	}

	v.Set(1, 1, 0, 3, 7)
	if got := v.Channel(3)[3]; got != 7 {
		t.Errorf("Expected 7 in channel 3 voxel 3, got %f", got)
	}
	if got := v.At(1, 1, 0, 3); got != 7 {
		t.Errorf("At returned %f", got)
	}
}

// TestSameGeometry verifies spacing and dimension comparison
func TestSameGeometry(t *testing.T) {
	a := New(3, 3, 3, 1, 1)
	b := New(3, 3, 3, 2, 1)
	if !a.SameGeometry(b) {
		t.Error("Channel count should not affect geometry")
	}

	b.Dz = 2
	if a.SameGeometry(b) {
		t.Error("Different spacing should not match")
	}

	c := New(3, 3, 2, 1, 1)
	if a.SameGeometry(c) {
		t.Error("Different dimensions should not match")
	}
}

// TestValidate checks buffer length validation
func TestValidate(t *testing.T) {
	v := New(2, 2, 2, 1, 1)
	if err := v.Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	v.Data = v.Data[:5]
	if err := v.Validate(); err == nil {
		t.Error("Expected error for short buffer")
	}
}

// TestDimensions reports 2 for single slices
func TestDimensions(t *testing.T) {
	if d := New(8, 8, 1, 1, 1).Dimensions(); d != 2 {
		t.Errorf("Expected 2, got %d", d)
	}
	if d := New(8, 8, 2, 1, 1).Dimensions(); d != 3 {
		t.Errorf("Expected 3, got %d", d)
	}
}
