// Package palette builds and recalibrates the display-color palette used
// by the plane multiplexer. Palette index i (in binary) selects which of
// the k bit planes are "set"; entries are laid out in gray-code order so
// that a hue misclassification between neighbouring colors in the first
// half of the hue order flips one plane bit (see reorderToGrayCode for
// the entries after that).
package palette

import (
	"image"
	"image/color"
	"math"
	"sort"
)

// Color is an RGB display color, 8 bits per channel.
type Color struct {
	R, G, B uint8
}

// Palette is an ordered list of 2^K colors. Entry 0 is the darkest
// ("black"); entry len-1 is the lightest ("white"); interior entries are
// hues spaced around the color wheel. Indexing is gray-coded (see
// reorderToGrayCode): hue-adjacent source colors in the first half of the
// hue order get indices that differ in one bit; later neighbours can
// differ in more than one.
type Palette struct {
	K      int
	Colors []Color
}

// Build constructs the synthetic palette for a plane count k (2^k colors).
func Build(k int) Palette {
	n := 1 << uint(k)
	if k <= 1 {
		return Palette{K: k, Colors: []Color{{0, 0, 0}, {255, 255, 255}}}
	}

	raw := make([]Color, n)
	raw[0] = Color{0, 0, 0}
	raw[n-1] = Color{255, 255, 255}
	interior := n - 2
	for c := 0; c < interior; c++ {
		angle := float64(c) / float64(interior) * 360.0
		lightness := 0.5
		if k >= 4 && c%2 == 1 {
			lightness = 0.4 // alternate 0.5±0.1 to reduce perceptual collisions
		} else if k >= 4 {
			lightness = 0.6
		}
		r, g, b := hslToRGB(angle, 1.0, lightness)
		raw[c+1] = Color{r, g, b}
	}

	return Palette{K: k, Colors: reorderToGrayCode(raw)}
}

// grayCode returns the standard reflected binary Gray code of i.
func grayCode(i int) int {
	return i ^ (i >> 1)
}

// reorderToGrayCode places raw[i] (hue-sorted, so raw[i] and raw[i+1] are
// visually adjacent hues) at palette position grayCode(i). The "white"
// entry is then moved to the last position, since white is always
// recognized by a saturation/lightness special case (see Classify), not
// by hue proximity. White (raw[n-1]) lands at grayCode(n-1) = n/2, so
// the move shifts every entry after position n/2 down by one: neighbours
// raw[i], raw[i+1] with i+1 < n/2 keep positions one bit apart, while
// later neighbours can end up more than one bit apart (for k=2 the two
// interior hues sit at indices 1 and 2).
func reorderToGrayCode(raw []Color) []Color {
	n := len(raw)
	out := make([]Color, n)
	whiteAt := 0
	for i := 0; i < n; i++ {
		pos := grayCode(i)
		out[pos] = raw[i]
		if i == n-1 {
			whiteAt = pos
		}
	}

	if whiteAt != n-1 {
		white := out[whiteAt]
		copy(out[whiteAt:n-1], out[whiteAt+1:n])
		out[n-1] = white
	}

	return out
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	if s == 0 {
		v := uint8(math.Round(l * 255))
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	hk := h / 360.0
	r := hueToRGB(p, q, hk+1.0/3.0)
	g := hueToRGB(p, q, hk)
	b := hueToRGB(p, q, hk-1.0/3.0)
	return clamp255(r), clamp255(g), clamp255(b)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	default:
		return p
	}
}

func clamp255(v float64) uint8 {
	v = math.Round(v * 255)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func rgbToHSL(r, g, b uint8) (h, s, l float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	max := math.Max(rf, math.Max(gf, bf))
	min := math.Min(rf, math.Min(gf, bf))
	l = (max + min) / 2
	if max == min {
		return 0, 0, l
	}
	d := max - min
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}
	switch max {
	case rf:
		h = (gf - bf) / d
		if gf < bf {
			h += 6
		}
	case gf:
		h = (bf-rf)/d + 2
	default:
		h = (rf-gf)/d + 4
	}
	h *= 60
	return h, s, l
}

// Classify maps a pixel to a palette index. Low-saturation pixels are
// classified as black or white by lightness; otherwise the interior entry
// with the closest hue (circular distance) is chosen. Classify never
// fails.
func (p Palette) Classify(r, g, b uint8) int {
	h, s, l := rgbToHSL(r, g, b)
	if s < 0.5 {
		if l < 0.5 {
			return 0
		}
		return len(p.Colors) - 1
	}

	best := 1
	bestDist := math.Inf(1)
	for i := 1; i < len(p.Colors)-1; i++ {
		ch, cs, _ := rgbToHSL(p.Colors[i].R, p.Colors[i].G, p.Colors[i].B)
		if cs < 0.5 {
			continue
		}
		d := circularHueDistance(h, ch)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func circularHueDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Recalibrate runs a small k-means fit over a sample region of a decoded
// page (conventionally its bottom-right quadrant's lower eighth) and
// returns a freshly ordered palette: the best of four random-restart runs
// (by inertia) is sorted by hue, its darkest centroid reassigned to index
// 0, its lightest to the last index, and the result gray-code reordered.
// If the sample yields fewer than len(colors) distinct clusters, the
// synthetic palette for the same k is returned instead.
func Recalibrate(img image.Image, k int) Palette {
	n := 1 << uint(k)
	samples := sampleRegion(img)
	if len(samples) < n {
		return Build(k)
	}

	best := kMeansBestOf(samples, n, 4)
	if best == nil {
		return Build(k)
	}

	sort.Slice(best, func(i, j int) bool {
		hi, _, _ := rgbToHSL(best[i].R, best[i].G, best[i].B)
		hj, _, _ := rgbToHSL(best[j].R, best[j].G, best[j].B)
		return hi < hj
	})

	darkestIdx, lightestIdx := 0, 0
	darkestL, lightestL := math.Inf(1), math.Inf(-1)
	for i, c := range best {
		_, _, l := rgbToHSL(c.R, c.G, c.B)
		if l < darkestL {
			darkestL, darkestIdx = l, i
		}
		if l > lightestL {
			lightestL, lightestIdx = l, i
		}
	}
	best[0], best[darkestIdx] = best[darkestIdx], best[0]
	if lightestIdx == 0 {
		lightestIdx = darkestIdx
	}
	best[len(best)-1], best[lightestIdx] = best[lightestIdx], best[len(best)-1]

	return Palette{K: k, Colors: reorderToGrayCode(best)}
}

// sampleRegion extracts the bottom-right quadrant's lower eighth of
// img, the region the palette swatch patch is rendered into.
func sampleRegion(img image.Image) []Color {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	qx0 := b.Min.X + w/2
	qy0 := b.Min.Y + h/2
	qh := h / 2
	sy0 := qy0 + qh - qh/8
	if sy0 < qy0 {
		sy0 = qy0
	}

	var out []Color
	for y := sy0; y < b.Max.Y; y++ {
		for x := qx0; x < b.Max.X; x++ {
			r, g, b2, _ := img.At(x, y).RGBA()
			out = append(out, Color{uint8(r >> 8), uint8(g >> 8), uint8(b2 >> 8)})
		}
	}
	return out
}

func kMeansBestOf(samples []Color, k, runs int) []Color {
	var bestCentroids []Color
	bestInertia := math.Inf(1)
	for run := 0; run < runs; run++ {
		centroids := seedCentroids(samples, k, run)
		centroids, inertia := kMeans(samples, centroids, 20)
		if distinctCount(centroids) < k {
			continue
		}
		if inertia < bestInertia {
			bestInertia = inertia
			bestCentroids = centroids
		}
	}
	return bestCentroids
}

func seedCentroids(samples []Color, k, seedRun int) []Color {
	centroids := make([]Color, k)
	step := len(samples) / k
	if step == 0 {
		step = 1
	}
	offset := (seedRun * 7) % max(1, len(samples))
	for i := 0; i < k; i++ {
		idx := (offset + i*step) % len(samples)
		centroids[i] = samples[idx]
	}
	return centroids
}

func kMeans(samples []Color, centroids []Color, iterations int) ([]Color, float64) {
	k := len(centroids)
	assign := make([]int, len(samples))
	var inertia float64

	for iter := 0; iter < iterations; iter++ {
		inertia = 0
		for i, s := range samples {
			best, bestDist := 0, math.Inf(1)
			for c := 0; c < k; c++ {
				d := colorDistSq(s, centroids[c])
				if d < bestDist {
					bestDist, best = d, c
				}
			}
			assign[i] = best
			inertia += bestDist
		}

		sums := make([][3]float64, k)
		counts := make([]int, k)
		for i, s := range samples {
			c := assign[i]
			sums[c][0] += float64(s.R)
			sums[c][1] += float64(s.G)
			sums[c][2] += float64(s.B)
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			centroids[c] = Color{
				R: uint8(sums[c][0] / float64(counts[c])),
				G: uint8(sums[c][1] / float64(counts[c])),
				B: uint8(sums[c][2] / float64(counts[c])),
			}
		}
	}
	return centroids, inertia
}

func colorDistSq(a, b Color) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return dr*dr + dg*dg + db*db
}

func distinctCount(colors []Color) int {
	seen := make(map[Color]bool, len(colors))
	for _, c := range colors {
		seen[c] = true
	}
	return len(seen)
}

// ToImageColors converts the palette to a slice suitable for building an
// image/color.Palette, for rendering swatches.
func (p Palette) ToImageColors() color.Palette {
	out := make(color.Palette, len(p.Colors))
	for i, c := range p.Colors {
		out[i] = color.RGBA{c.R, c.G, c.B, 0xFF}
	}
	return out
}
