package layout

// QuietZoneModules is the gap, in pixels at 1 px/module, left between
// adjacent barcode cells: a little more than the 4-module quiet zone a
// QR reader requires.
const QuietZoneModules = 6

// Cell describes one barcode's position and packing parameters on a page.
type Cell struct {
	X, Y             int // top-left corner, in modules
	Size             int // side length, in modules
	DamageLikelihood float64
	Version          int
	EC               ECLevel
	CapacityBytes    int // PayloadBytesPerCell for this cell's k
}

// Layout is the packing of one page: a fixed grid of cells at a single QR
// version, each with an independently chosen EC tier.
type Layout struct {
	PageWidthModules, PageHeightModules int
	Version                             int
	K                                   int
	Cells                               []Cell
	BytesPerPage                        int
}

// Pack lays out cells across a page of the given module dimensions at a
// fixed QR version, evaluating dl at each cell's center to choose its EC
// tier. Cells fill left-to-right, top-to-bottom; the encoder applies
// its own pseudo-random cell ordering on top of this for
// damage-resilience purposes.
func Pack(pageWidthModules, pageHeightModules, version, k int, dl DamageLikelihoodMap) Layout {
	size := ModuleCount(version)
	lay := Layout{
		PageWidthModules:  pageWidthModules,
		PageHeightModules: pageHeightModules,
		Version:           version,
		K:                 k,
	}

	x, y := 0, 0
	for y+size <= pageHeightModules {
		fx := (float64(x) + float64(size)/2) / float64(pageWidthModules)
		fy := (float64(y) + float64(size)/2) / float64(pageHeightModules)
		likelihood := dl(fx, fy)
		ec := ecForDamage(likelihood)
		cap := PayloadBytesPerCell(version, ec, k)

		lay.Cells = append(lay.Cells, Cell{
			X: x, Y: y, Size: size,
			DamageLikelihood: likelihood,
			Version:          version,
			EC:               ec,
			CapacityBytes:    cap,
		})
		lay.BytesPerPage += cap

		x += size + QuietZoneModules
		if x+size > pageWidthModules {
			x = 0
			y += size + QuietZoneModules
		}
	}
	return lay
}

// RepackForMinBytes tries smaller QR versions than the current layout's,
// from current.Version-1 down to current.Version/2+1. A smaller version
// is adopted only if its packing still carries at least
// targetBytesPerPage AND beats the best candidate so far by 10% or more:
// smaller symbols tile a page more densely, but larger symbols carry
// intrinsically stronger error correction, so a marginal byte-count win
// is not worth the downgrade. Returns the chosen layout and whether any
// improvement was adopted; callers loop until no improvement remains.
func RepackForMinBytes(current Layout, pageWidthModules, pageHeightModules, k int, dl DamageLikelihoodMap, targetBytesPerPage int) (Layout, bool) {
	best := current
	improved := false
	lo := current.Version/2 + 1
	if lo < MinVersion {
		lo = MinVersion
	}
	for v := current.Version - 1; v >= lo; v-- {
		lay := Pack(pageWidthModules, pageHeightModules, v, k, dl)
		if lay.BytesPerPage < targetBytesPerPage {
			continue
		}
		if float64(lay.BytesPerPage) >= 1.1*float64(best.BytesPerPage) {
			best = lay
			improved = true
		}
	}
	return best, improved
}
