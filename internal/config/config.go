// Package config loads the TOML configuration for encode/decode/watch
// runs, falling back to documented defaults when no config file exists.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// EncodeConfig controls page packing and rendering.
type EncodeConfig struct {
	Colors         int     `toml:"colors"`       // number of distinct colors; K = log2(Colors)
	PageWidth      int     `toml:"page_width"`   // modules
	PageHeight     int     `toml:"page_height"`  // modules
	InitialVersion int     `toml:"initial_version"`
	ECFunction     string  `toml:"ec_function"` // "constant" or "radial"
	ECMin          float64 `toml:"ec_min"`
	ECMax          float64 `toml:"ec_max"`
	ParityShards   int     `toml:"parity_shards"`
	ParityStride   int     `toml:"parity_stride"`
	DPI            int     `toml:"dpi"`
	MarginPoints   float64 `toml:"margin_points"`
	// HeaderTemplate/FooterTemplate are the page header/footer text
	// lines, expanded with {{page_num}}, {{total_pages}}, {{dpi}},
	// {{total_overlay_colors}}, and {{source_name}} (the input file's
	// name by default).
	HeaderTemplate string `toml:"header_template"`
	FooterTemplate string `toml:"footer_template"`
}

// DecodeConfig controls decode-side behavior. Geometry fields mirror
// EncodeConfig since the decoder must recompute the identical cell grid
// the document was encoded with; there is no persisted metadata file, so
// these must match whatever the encode run actually used (repacking can
// settle below the initial version, so Version should be set explicitly
// from the version an encode run reported).
type DecodeConfig struct {
	OutputDir    string `toml:"output_dir"`
	Colors       int    `toml:"colors"`
	PageWidth    int    `toml:"page_width"`
	PageHeight   int    `toml:"page_height"`
	Version      int    `toml:"version"`
	ParityShards int    `toml:"parity_shards"`
	DataPages    int    `toml:"data_pages"`
}

// WatchConfig controls decode-side directory watching.
type WatchConfig struct {
	InputDir     string `toml:"input_dir"`
	OutputDir    string `toml:"output_dir"`
	PollInterval int    `toml:"poll_interval"` // seconds, 0 = default (5s)
}

func (w WatchConfig) PollDuration() time.Duration {
	if w.PollInterval > 0 {
		return time.Duration(w.PollInterval) * time.Second
	}
	return 5 * time.Second
}

// Config is the top-level TOML document.
type Config struct {
	Encode EncodeConfig `toml:"encode"`
	Decode DecodeConfig `toml:"decode"`
	Watch  WatchConfig  `toml:"watch"`
}

func defaultConfig() *Config {
	return &Config{
		Encode: EncodeConfig{
			Colors:         2,
			PageWidth:      1600,
			PageHeight:     2200,
			InitialVersion: 20,
			ECFunction:     "constant",
			ECMin:          0.25,
			ECMax:          0.25,
			ParityShards:   2,
			ParityStride:   256,
			DPI:            300,
			MarginPoints:   36,
			HeaderTemplate: "{{source_name}} -- page {{page_num}}/{{total_pages}}",
			FooterTemplate: "{{dpi}} dpi, {{total_overlay_colors}} colors",
		},
		Decode: DecodeConfig{
			OutputDir:    ".",
			Colors:       2,
			PageWidth:    1600,
			PageHeight:   2200,
			Version:      20,
			ParityShards: 2,
		},
		Watch: WatchConfig{
			OutputDir: ".",
		},
	}
}

// Load reads path as TOML, returning the documented defaults if the file
// does not exist.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
