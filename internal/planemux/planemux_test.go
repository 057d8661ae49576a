package planemux

import (
	"testing"

	"github.com/inkarchive/rasterarchive/internal/palette"
)

func solidPlane(w, h int, v byte) *Plane {
	pl := NewPlane(w, h)
	for i := range pl.Pix {
		pl.Pix[i] = v
	}
	return pl
}

func TestMuxDemuxRoundTrip(t *testing.T) {
	for k := 1; k <= 4; k++ {
		p := palette.Build(k)
		n := 1 << uint(k)
		for idx := 0; idx < n; idx++ {
			planes := make([]*Plane, k)
			for c := 0; c < k; c++ {
				v := byte(0)
				if (idx>>uint(c))&1 != 0 {
					v = 0xFF
				}
				planes[c] = solidPlane(4, 4, v)
			}
			img, err := Mux(planes, p)
			if err != nil {
				t.Fatalf("k=%d idx=%d: mux error: %v", k, idx, err)
			}
			out := Demux(img, p)
			for c := 0; c < k; c++ {
				want := planes[c].At(0, 0)
				got := out[c].At(0, 0)
				if got != want {
					t.Fatalf("k=%d idx=%d plane %d: got %d want %d", k, idx, c, got, want)
				}
			}
		}
	}
}

func TestMuxSizeMismatch(t *testing.T) {
	p := palette.Build(2)
	planes := []*Plane{solidPlane(2, 2, 0), solidPlane(3, 3, 0)}
	if _, err := Mux(planes, p); err == nil {
		t.Fatalf("expected error for mismatched plane sizes")
	}
}
