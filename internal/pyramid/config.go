package pyramid

import (
	"runtime"
	"strconv"
)

// Codec selects the frame pixel encoding.
type Codec int

const (
	CodecJPEG Codec = iota
	CodecJPEG2000
	CodecRaw
)

func ParseCodec(s string) (Codec, error) {
	switch s {
	case "jpeg":
		return CodecJPEG, nil
	case "jpeg2000":
		return CodecJPEG2000, nil
	case "raw", "none":
		return CodecRaw, nil
	default:
		return 0, &ConfigError{Option: "codec", Reason: "must be jpeg, jpeg2000, or raw/none, got " + s}
	}
}

// Resampler selects the pixel kernel used when slicing a tile.
type Resampler int

const (
	ResamplerNearest Resampler = iota
	ResamplerBilinear
	ResamplerOpenCV
)

// OpenCVMethod names an OpenCV-style resampling kernel.
type OpenCVMethod int

const (
	OpenCVNone OpenCVMethod = iota
	OpenCVNearest
	OpenCVBilinear
	OpenCVCubic
	OpenCVArea
	OpenCVLanczos4
	OpenCVLinearExact
)

// Layout selects DICOM frame indexing.
type Layout int

const (
	LayoutDense Layout = iota // tiled-full
	LayoutSparse              // tiled-sparse
)

// Config is the full set of recognized conversion options. It is built
// once from CLI flags (or directly, for tests) and validated before any
// work begins.
type Config struct {
	InputPath string
	OutputDir string

	FrameWidth  int
	FrameHeight int

	Codec   Codec
	Quality int

	StartLevel int // -1 = none
	StopLevel  int // -1 = last

	RetileLevels int       // 0 = mirror source pyramid
	Downsamples  []float64 // per-level factor; <= 0 defaults to 2^l

	Tiled bool // true -> DENSE, false -> SPARSE

	BatchLimit int // <= 0 = unlimited (one instance per level)
	Threads    int // <= 0 = hardware concurrency

	StopDownsamplingAtSingleFrame bool
	UseBilinear                   bool
	OpenCVMethod                  OpenCVMethod
	FloorCorrectDownsampling      bool
	ProgressiveDownsample         bool
	CropToUniformPixelSpacing     bool

	StudyID   string
	SeriesID  string
	ImageName string

	JSONTagFile string

	Debug bool
}

// DefaultConfig returns a Config with every option at its documented
// default.
func DefaultConfig() Config {
	return Config{
		FrameWidth:   500,
		FrameHeight:  500,
		Codec:        CodecJPEG,
		Quality:      80,
		StartLevel:   -1,
		StopLevel:    -1,
		RetileLevels: 0,
		Tiled:        true,
		BatchLimit:   0,
		Threads:      runtime.NumCPU(),
	}
}

// Validate checks the config for internal consistency, returning the
// first ConfigError found.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return &ConfigError{Option: "input path", Reason: "must not be empty"}
	}
	if c.OutputDir == "" {
		return &ConfigError{Option: "output directory", Reason: "must not be empty"}
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return &ConfigError{Option: "frame size", Reason: "width and height must be positive"}
	}
	if c.Codec == CodecJPEG && (c.Quality < 1 || c.Quality > 100) {
		return &ConfigError{Option: "quality", Reason: "must be between 1 and 100"}
	}
	if c.RetileLevels < 0 {
		return &ConfigError{Option: "retile_levels", Reason: "must be >= 0"}
	}
	if c.FloorCorrectDownsampling {
		for i, d := range c.Downsamples {
			if d > 0 && d != float64(int64(d)) {
				return &ConfigError{Option: "downsamples", Reason: "floor_correct_downsampling requires integer-valued downsamples; " +
					"entry " + strconv.Itoa(i) + " is fractional"}
			}
		}
	}
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}
	return nil
}
