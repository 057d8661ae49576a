// Command rasterarchive encodes a file into a sequence of printable
// archival barcode pages, or decodes such pages back into the original
// file: flag parsing, file I/O, and wiring the internal packages
// together.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/inkarchive/rasterarchive/internal/bundle"
	"github.com/inkarchive/rasterarchive/internal/config"
	"github.com/inkarchive/rasterarchive/internal/decoder"
	"github.com/inkarchive/rasterarchive/internal/encoder"
	"github.com/inkarchive/rasterarchive/internal/integrity"
	"github.com/inkarchive/rasterarchive/internal/layout"
	"github.com/inkarchive/rasterarchive/internal/page"
	"github.com/inkarchive/rasterarchive/internal/palette"
	"github.com/inkarchive/rasterarchive/internal/parity"
	"github.com/inkarchive/rasterarchive/internal/qrio"
	"github.com/inkarchive/rasterarchive/internal/stresstest"
	"github.com/inkarchive/rasterarchive/internal/vectorexport"
	"github.com/inkarchive/rasterarchive/internal/watch"

	"github.com/dennwc/gotrace"
)

func main() {
	var input, output, configPath, mode, sourceName, ecFunction string
	var colors, parityShards, width, height, version, dataPages, dpi int
	var ecMin, ecMax, margins float64
	var vectorOut, watchMode bool

	flag.StringVar(&input, "i", "", "Input path")
	flag.StringVar(&input, "input", "", "Input path")
	flag.StringVar(&output, "o", "", "Output path")
	flag.StringVar(&output, "output", "", "Output path")
	flag.StringVar(&configPath, "config", "config.toml", "Path to config file (TOML)")
	flag.StringVar(&mode, "mode", "encode", "encode | decode | stresstest | watch")
	flag.StringVar(&sourceName, "source-name", "", "Document name stamped into the page header (default: input file name)")
	flag.IntVar(&colors, "colors", 0, "Palette color count (2^k); 0 = use config")
	flag.IntVar(&parityShards, "parity", -1, "Number of parity pages; -1 = use config")
	flag.IntVar(&width, "width", 0, "Page width, in barcode modules; 0 = use config")
	flag.IntVar(&height, "height", 0, "Page height, in barcode modules; 0 = use config")
	flag.IntVar(&version, "version", 0, "QR-style symbology version (decode mode must match the version the document was encoded at); 0 = use config")
	flag.IntVar(&dataPages, "data-pages", 0, "Decode mode: number of data pages (P_data) preceding any parity pages; 0 = infer")
	flag.StringVar(&ecFunction, "ecfunction", "", `Damage-map shape, "constant" or "radial"; empty = use config`)
	flag.Float64Var(&ecMin, "ecmin", -1, "Minimum damage likelihood, in percent (0-100); -1 = use config")
	flag.Float64Var(&ecMax, "ecmax", -1, "Maximum damage likelihood, in percent (0-100); -1 = use config")
	flag.IntVar(&dpi, "dpi", 0, "Print resolution; 0 = use config")
	flag.Float64Var(&margins, "margins", -1, "Page margins, in points; -1 = use config")
	flag.BoolVar(&vectorOut, "vector", false, "Encode mode: also emit a vector-traced PDF per page, for engraving/plotting output")
	flag.BoolVar(&watchMode, "watch", false, "Run as a decode daemon, watching [watch] directories from config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if watchMode {
		mode = "watch"
	}

	if colors > 0 {
		cfg.Encode.Colors = colors
		cfg.Decode.Colors = colors
	}
	if parityShards >= 0 {
		cfg.Encode.ParityShards = parityShards
		cfg.Decode.ParityShards = parityShards
	}
	if width > 0 {
		cfg.Encode.PageWidth = width
		cfg.Decode.PageWidth = width
	}
	if height > 0 {
		cfg.Encode.PageHeight = height
		cfg.Decode.PageHeight = height
	}
	if version > 0 {
		cfg.Encode.InitialVersion = version
		cfg.Decode.Version = version
	}
	if dataPages > 0 {
		cfg.Decode.DataPages = dataPages
	}
	if ecFunction != "" {
		cfg.Encode.ECFunction = ecFunction
	}
	if ecMin >= 0 {
		cfg.Encode.ECMin = ecMin / 100
	}
	if ecMax >= 0 {
		cfg.Encode.ECMax = ecMax / 100
	}
	if dpi > 0 {
		cfg.Encode.DPI = dpi
	}
	if margins >= 0 {
		cfg.Encode.MarginPoints = margins
	}

	var runErr error
	switch mode {
	case "encode":
		if input == "" || output == "" {
			usage()
			os.Exit(1)
		}
		runErr = runEncode(input, output, cfg, sourceName, vectorOut)
	case "decode":
		if input == "" || output == "" {
			usage()
			os.Exit(1)
		}
		runErr = runDecode(input, output, cfg)
	case "stresstest":
		if output == "" {
			usage()
			os.Exit(1)
		}
		runErr = runStressTest(output, cfg)
	case "watch":
		if cfg.Watch.InputDir == "" || cfg.Watch.OutputDir == "" {
			fmt.Fprintln(os.Stderr, "Error: [watch] input_dir and output_dir must be set in config for --watch mode")
			os.Exit(1)
		}
		runErr = runWatchMode(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown mode %q\n", mode)
		os.Exit(1)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: rasterarchive -i <input> -o <output> [--mode encode|decode|stresstest|watch] [--config config.toml]")
	flag.PrintDefaults()
}

// colorsToK returns the smallest k with 2^k >= colors.
func colorsToK(colors int) int {
	if colors < 2 {
		colors = 2
	}
	k := 0
	for (1 << uint(k)) < colors {
		k++
	}
	return k
}

func buildDamageMap(ec config.EncodeConfig) layout.DamageLikelihoodMap {
	if strings.EqualFold(ec.ECFunction, "radial") {
		return layout.RadialDamageMap(ec.ECMin, ec.ECMax)
	}
	return layout.ConstantDamageMap(ec.ECMin)
}

// pickLayout settles the page packing for a document: an initial pack
// at the configured version yields the starting bytes-per-page, from
// which the data page count and minimum per-page byte target are
// derived, then repack-for-min-bytes is called repeatedly until it
// stops improving, fixing the final version and block size.
func pickLayout(w, h, initialVersion, k int, dm layout.DamageLikelihoodMap, totalLen uint64) (layout.Layout, error) {
	lay := layout.Pack(w, h, initialVersion, k, dm)
	if len(lay.Cells) == 0 || lay.BytesPerPage == 0 {
		return layout.Layout{}, fmt.Errorf("page %dx%d modules too small to fit any cell at version %d", w, h, initialVersion)
	}
	if totalLen == 0 {
		return lay, nil
	}

	pData := int((totalLen + uint64(lay.BytesPerPage) - 1) / uint64(lay.BytesPerPage))
	if pData < 1 {
		pData = 1
	}
	minPerPage := int((totalLen + uint64(pData) - 1) / uint64(pData))
	for {
		next, improved := layout.RepackForMinBytes(lay, w, h, k, dm, minPerPage)
		lay = next
		if !improved {
			return lay, nil
		}
	}
}

func applyTemplate(tmpl string, pageNum, totalPages, dpi, colorCount int, sourceName string) string {
	r := strings.NewReplacer(
		"{{page_num}}", strconv.Itoa(pageNum),
		"{{total_pages}}", strconv.Itoa(totalPages),
		"{{dpi}}", strconv.Itoa(dpi),
		"{{total_overlay_colors}}", strconv.Itoa(colorCount),
		"{{source_name}}", sourceName,
	)
	return r.Replace(tmpl)
}

// marginPixels converts a margin in PDF points to pixels at the given
// print resolution.
func marginPixels(points float64, dpi int) int {
	if dpi <= 0 {
		dpi = 300
	}
	return int(points/72.0*float64(dpi) + 0.5)
}

// isUpToDate reports whether the output directory already holds page
// files no older than the input, in which case an encode run is
// skipped.
func isUpToDate(inputPath, outputDir, stem string) bool {
	inInfo, err := os.Stat(inputPath)
	if err != nil {
		return false
	}
	matches, err := filepath.Glob(filepath.Join(outputDir, stem+"-*.png"))
	if err != nil || len(matches) == 0 {
		return false
	}
	for _, m := range matches {
		outInfo, err := os.Stat(m)
		if err != nil || outInfo.ModTime().Before(inInfo.ModTime()) {
			return false
		}
	}
	return true
}

func runEncode(inputPath, outputDir string, cfg *config.Config, sourceName string, vectorOut bool) error {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	if sourceName == "" {
		sourceName = filepath.Base(inputPath)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", outputDir, err)
	}
	if isUpToDate(inputPath, outputDir, stem) {
		fmt.Printf("'%s' is already up-to-date. Skipping.\n", outputDir)
		return nil
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inputPath, err)
	}

	k := colorsToK(cfg.Encode.Colors)
	dm := buildDamageMap(cfg.Encode)
	w, h := cfg.Encode.PageWidth, cfg.Encode.PageHeight

	lay, err := pickLayout(w, h, cfg.Encode.InitialVersion, k, dm, uint64(len(data)))
	if err != nil {
		return err
	}

	parityShards := cfg.Encode.ParityShards
	if parityShards < 0 || parityShards > 63 {
		return &encoder.CapacityExceededError{Reason: fmt.Sprintf("parity_shards must be in [0,63], got %d", parityShards)}
	}
	pData := 1
	if lay.BytesPerPage > 0 {
		pData = int((uint64(len(data)) + uint64(lay.BytesPerPage) - 1) / uint64(lay.BytesPerPage))
		if pData < 1 {
			pData = 1
		}
	}
	if pData+parityShards > 255 {
		return &encoder.CapacityExceededError{Reason: fmt.Sprintf("%d data pages + %d parity pages exceeds the 255-shard GF(2^8) limit", pData, parityShards)}
	}

	codec := qrio.New()
	enc := encoder.New(encoder.Config{
		K:                 k,
		PageWidthModules:  w,
		PageHeightModules: h,
		InitialVersion:    lay.Version,
		DamageMap:         dm,
		Barcodes:          codec,
	})

	start := time.Now()
	pages, err := enc.Encode(data)
	if err != nil {
		return err
	}

	docHash := integrity.HashBytes(data)
	totalLength := uint64(len(data))

	var parityPages []encoder.Page
	if parityShards > 0 {
		// Parity stripes the document's per-page byte slabs, not the
		// rendered frames: losing a whole page then costs exactly one
		// shard per column.
		slabs := make([][]byte, len(pages))
		for i, p := range pages {
			slabs[i] = data[p.StartOffset : p.StartOffset+p.BytesCarried]
		}
		eng := parity.New(len(pages), parityShards, cfg.Encode.ParityStride)
		bufs, err := eng.Encode(slabs)
		if err != nil {
			return fmt.Errorf("computing parity: %w", err)
		}
		for i, buf := range bufs {
			pp, err := enc.EncodeParityPage(len(pages)+i+1, i, docHash, totalLength, buf)
			if err != nil {
				return fmt.Errorf("rendering parity page %d: %w", i, err)
			}
			parityPages = append(parityPages, pp)
		}
	}

	allPages := append(append([]encoder.Page{}, pages...), parityPages...)
	totalPages := len(allPages)
	colorCount := 1 << uint(k)
	marginPx := marginPixels(cfg.Encode.MarginPoints, cfg.Encode.DPI)

	bundlePages := make([]bundle.Page, totalPages)
	for i, p := range allPages {
		header := applyTemplate(cfg.Encode.HeaderTemplate, i+1, totalPages, cfg.Encode.DPI, colorCount, sourceName)
		footer := applyTemplate(cfg.Encode.FooterTemplate, i+1, totalPages, cfg.Encode.DPI, colorCount, sourceName)
		pl := page.Layout{HeaderText: header, FooterText: footer, MarginPixels: marginPx, Pal: p.Palette}
		full := pl.Render(p.Image)

		filename := fmt.Sprintf("%s-%04d.png", stem, i+1)
		if err := page.WritePNG(filepath.Join(outputDir, filename), full); err != nil {
			return fmt.Errorf("writing page %d: %w", i+1, err)
		}

		b := full.Bounds()
		dpi := float64(cfg.Encode.DPI)
		if dpi <= 0 {
			dpi = 300
		}
		bundlePages[i] = bundle.Page{
			Image:        full,
			WidthPoints:  float64(b.Dx()) * 72.0 / dpi,
			HeightPoints: float64(b.Dy()) * 72.0 / dpi,
		}
	}

	pdfPath := filepath.Join(outputDir, stem+".pdf")
	if err := bundle.Write(pdfPath, bundlePages); err != nil {
		return fmt.Errorf("bundling PDF: %w", err)
	}
	if err := bundle.Validate(pdfPath); err != nil {
		return fmt.Errorf("validating bundled PDF: %w", err)
	}
	if err := bundle.Optimize(pdfPath); err != nil {
		return fmt.Errorf("optimizing bundled PDF: %w", err)
	}

	if vectorOut {
		params := gotrace.Defaults
		for i, bp := range bundlePages {
			paths, err := vectorexport.Trace(bp.Image, &params)
			if err != nil {
				return fmt.Errorf("tracing page %d: %w", i+1, err)
			}
			b := bp.Image.Bounds()
			vecPath := filepath.Join(outputDir, fmt.Sprintf("%s-%04d.vector.pdf", stem, i+1))
			if err := vectorexport.WriteSinglePagePDF(vecPath, paths, b.Dx(), b.Dy(), bp.WidthPoints, bp.HeightPoints); err != nil {
				return fmt.Errorf("writing vector PDF for page %d: %w", i+1, err)
			}
		}
	}

	fmt.Printf(
		"Encoded '%s' -> %d page(s) (%d data, %d parity) at version %d, %d bytes/page, in %.2fs\n",
		inputPath, totalPages, len(pages), len(parityPages), lay.Version, lay.BytesPerPage, time.Since(start).Seconds(),
	)
	return nil
}

var pageIndexRe = regexp.MustCompile(`-(\d+)\.png$`)

func runDecode(inputDir, outputFile string, cfg *config.Config) error {
	matches, err := filepath.Glob(filepath.Join(inputDir, "*.png"))
	if err != nil {
		return fmt.Errorf("globbing %s: %w", inputDir, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no page images found in %s", inputDir)
	}

	parityShards := cfg.Decode.ParityShards
	if parityShards < 0 {
		parityShards = 0
	}
	dataPages := cfg.Decode.DataPages
	if dataPages <= 0 {
		dataPages = len(matches) - parityShards
		if dataPages < 1 {
			dataPages = len(matches)
			parityShards = 0
		}
	}

	k := colorsToK(cfg.Decode.Colors)
	version := cfg.Decode.Version
	if version <= 0 {
		version = cfg.Encode.InitialVersion
	}

	dataImages := make([]image.Image, dataPages)
	parityImages := make([]image.Image, parityShards)

	// The page chrome (margins, text strips) was sized by the encode
	// settings; strip it back off so cell geometry lines up at (0,0).
	// Recalibrate the palette from the first full page BEFORE cropping:
	// the footer's swatch patch lives in the chrome, and it is a better
	// reference under scan noise than the barcode cells themselves.
	marginPx := marginPixels(cfg.Encode.MarginPoints, cfg.Encode.DPI)
	var pal *palette.Palette

	for _, m := range matches {
		sub := pageIndexRe.FindStringSubmatch(m)
		if sub == nil {
			continue
		}
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 1 {
			continue
		}
		f, err := os.Open(m)
		if err != nil {
			return fmt.Errorf("opening %s: %w", m, err)
		}
		img, err := page.ReadPNG(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", m, err)
		}
		if pal == nil {
			p := palette.Recalibrate(img, k)
			pal = &p
		}
		img = page.Interior(img, marginPx, cfg.Decode.PageWidth, cfg.Decode.PageHeight)
		switch {
		case idx <= dataPages:
			dataImages[idx-1] = img
		case idx <= dataPages+parityShards:
			parityImages[idx-dataPages-1] = img
		}
	}

	codec := qrio.New()
	dec := decoder.New(decoder.Config{
		K:                 k,
		PageWidthModules:  cfg.Decode.PageWidth,
		PageHeightModules: cfg.Decode.PageHeight,
		Version:           version,
		Recognizer:        codec,
		Palette:           pal,
	})

	result, err := dec.Decode(dataImages, parityImages, parityShards)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputFile, result.Data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", outputFile, err)
	}

	if result.Dropped > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d frame(s) recognized but undecodable were dropped\n", result.Dropped)
	}
	fmt.Printf(
		"Decoded %s -> '%s' (%d bytes, hash %06x, recovered=%v)\n",
		inputDir, outputFile, len(result.Data), result.DocumentHash, result.Recovered,
	)
	return nil
}

func runStressTest(outputFile string, cfg *config.Config) error {
	k := colorsToK(cfg.Encode.Colors)
	version := cfg.Encode.InitialVersion
	if version <= 0 {
		version = 10
	}
	codec := qrio.New()
	img, err := stresstest.Generate(stresstest.Config{
		PageWidthModules:  cfg.Encode.PageWidth,
		PageHeightModules: cfg.Encode.PageHeight,
		Version:           version,
		K:                 k,
		Barcodes:          codec,
	})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := page.WritePNG(outputFile, img); err != nil {
		return err
	}
	fmt.Printf("Wrote stress-test page to '%s'\n", outputFile)
	return nil
}

func runWatchMode(cfg *config.Config) error {
	decodeFn := func(inputPath, outputPath string) error {
		dir := filepath.Dir(inputPath)
		return runDecode(dir, outputPath, cfg)
	}

	return watch.Run(context.Background(), watch.Config{
		InputDir:     cfg.Watch.InputDir,
		OutputDir:    cfg.Watch.OutputDir,
		PollInterval: cfg.Watch.PollDuration(),
		Decode:       decodeFn,
	})
}
