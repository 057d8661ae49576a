// Package layout computes how barcode cells are packed onto a page: how
// many fit, what QR version/EC tier each gets (driven by a damage
// likelihood map), and how many payload bytes each can carry.
package layout

// ECLevel mirrors the four QR error-correction tiers. The ordinals match
// github.com/skip2/go-qrcode's RecoveryLevel (Low, Medium, High, Highest)
// so a layout.ECLevel converts directly into that package's type.
type ECLevel int

const (
	ECLow ECLevel = iota
	ECMedium
	ECQuartile
	ECHigh
)

func (e ECLevel) String() string {
	switch e {
	case ECLow:
		return "L"
	case ECMedium:
		return "M"
	case ECQuartile:
		return "Q"
	case ECHigh:
		return "H"
	default:
		return "?"
	}
}

// eccCodewordsPerBlock and numErrorCorrectionBlocks are the standard
// ISO/IEC 18004 per-version, per-EC-level tables (versions 1..40, index 0
// unused). Reproduced from the nayuki QR generator's public-domain tables.
var eccCodewordsPerBlock = [4][41]int8{
	{-1, 7, 10, 15, 20, 26, 18, 20, 24, 30, 18, 20, 24, 26, 30, 22, 24, 28, 30, 28, 28, 28, 28, 30, 30, 26, 28, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30},
	{-1, 10, 16, 26, 18, 24, 16, 18, 22, 22, 26, 30, 22, 22, 24, 24, 28, 28, 26, 26, 26, 26, 28, 28, 28, 28, 28, 28, 28, 28, 28, 28, 28, 28, 28, 28, 28, 28, 28, 28, 28},
	{-1, 13, 22, 18, 26, 18, 24, 18, 22, 20, 24, 28, 26, 24, 20, 30, 24, 28, 28, 26, 30, 28, 30, 30, 30, 30, 28, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30},
	{-1, 17, 28, 22, 16, 22, 28, 26, 26, 24, 28, 24, 28, 22, 24, 24, 30, 28, 28, 26, 28, 30, 24, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30},
}

var numErrorCorrectionBlocks = [4][41]int8{
	{-1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 4, 4, 4, 4, 4, 6, 6, 6, 6, 7, 8, 8, 9, 9, 10, 12, 12, 12, 13, 14, 15, 16, 17, 18, 19, 19, 20, 21, 22, 24, 25},
	{-1, 1, 1, 1, 2, 2, 4, 4, 4, 5, 5, 5, 8, 9, 9, 10, 10, 11, 13, 14, 16, 17, 17, 18, 20, 21, 23, 25, 26, 28, 29, 31, 33, 35, 37, 38, 40, 43, 45, 47, 49},
	{-1, 1, 1, 2, 2, 4, 4, 6, 6, 8, 8, 8, 10, 12, 16, 12, 17, 16, 18, 21, 20, 23, 23, 25, 27, 29, 34, 34, 35, 38, 40, 43, 45, 48, 51, 53, 56, 59, 62, 65, 68},
	{-1, 1, 1, 2, 4, 4, 4, 5, 6, 8, 8, 11, 11, 16, 16, 18, 16, 19, 21, 25, 25, 25, 34, 30, 32, 35, 37, 40, 42, 45, 48, 51, 54, 57, 60, 63, 66, 70, 74, 77, 81},
}

// MinVersion and MaxVersion bound the QR version range this codec will use.
const (
	MinVersion = 1
	MaxVersion = 40
)

// ModuleCount returns the side length, in modules, of a QR symbol at the
// given version (versions run 1..40, each adding 4 modules per side).
func ModuleCount(version int) int {
	return 4*version + 17
}

// rawDataModules computes the number of bit-carrying modules in a QR
// symbol of the given version, before error-correction codewords are
// deducted (nayuki's getNumRawDataModules).
func rawDataModules(version int) int {
	v := version
	result := (16*v+128)*v + 64
	if v >= 2 {
		numAlign := v/7 + 2
		result -= (25*numAlign-10)*numAlign - 55
		if v >= 7 {
			result -= 36
		}
	}
	return result
}

// dataCodewords returns the number of 8-bit data codewords (error
// correction codewords already deducted) for the given version/EC level.
func dataCodewords(version int, ec ECLevel) int {
	eccPerBlock := int(eccCodewordsPerBlock[ec][version])
	numBlocks := int(numErrorCorrectionBlocks[ec][version])
	return rawDataModules(version)/8 - eccPerBlock*numBlocks
}

// alphanumericLengthBits returns the bit width of the character-count
// field for alphanumeric mode at the given version (ISO/IEC 18004 table).
func alphanumericLengthBits(version int) int {
	switch {
	case version <= 9:
		return 9
	case version <= 26:
		return 11
	default:
		return 13
	}
}

// alphaCapacityChars returns the maximum number of alphanumeric-mode
// characters (the base-45 alphabet) a symbol of this version/EC
// level can carry: total data bits, minus the mode indicator and length
// field, packed two characters to 11 bits with an optional trailing
// single character in 6 bits.
func alphaCapacityChars(version int, ec ECLevel) int {
	const modeIndicatorBits = 4
	totalBits := dataCodewords(version, ec) * 8
	avail := totalBits - modeIndicatorBits - alphanumericLengthBits(version)
	if avail <= 0 {
		return 0
	}
	pairs := avail / 11
	chars := pairs * 2
	rem := avail - pairs*11
	if rem >= 6 {
		chars++
	}
	return chars
}

// frameHeaderSize is the fixed frame.HeaderSize, duplicated here to avoid
// an import cycle (layout is computed before any frame is built).
const frameHeaderSize = 20

// PayloadBytesPerPlane returns how many post-header frame payload bytes a
// single monochrome plane's worth of this barcode cell can carry: the
// alphanumeric character capacity, converted back to raw bytes at 5 bits
// per character (a conservative bound: base-45 spends 3 characters per 2
// bytes, about 5.3 bits per character), minus the fixed frame header.
func PayloadBytesPerPlane(version int, ec ECLevel) int {
	chars := alphaCapacityChars(version, ec)
	bytes := chars * 5 / 8
	bytes -= frameHeaderSize
	if bytes < 0 {
		return 0
	}
	return bytes
}

// PayloadBytesPerCell returns the total payload byte capacity of a cell
// carrying k color bit-planes (k=1 for a monochrome barcode).
func PayloadBytesPerCell(version int, ec ECLevel, k int) int {
	if k < 1 {
		k = 1
	}
	return PayloadBytesPerPlane(version, ec) * k
}
