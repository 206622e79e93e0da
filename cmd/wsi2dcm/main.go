package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/pspoerri/wsi2dcm/internal/pyramid"
	"github.com/pspoerri/wsi2dcm/internal/wsisource"
	"github.com/suyashkumar/dicom"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		outputDir      string
		frameWidth     int
		frameHeight    int
		codec          string
		quality        int
		startLevel     int
		stopLevel      int
		retileLevels   int
		downsamples    string
		tiled          bool
		batchLimit     int
		threads        int
		stopAtSingle   bool
		useBilinear    bool
		openCVMethod   string
		floorCorrect   bool
		progressive    bool
		cropUniform    bool
		studyID        string
		seriesID       string
		imageName      string
		jsonTagFile    string
		debug          bool
		showVersion    bool
	)

	flag.StringVar(&outputDir, "output", "", "Output directory for DICOM instances")
	flag.IntVar(&frameWidth, "frame-width", 500, "Output tile width in pixels")
	flag.IntVar(&frameHeight, "frame-height", 500, "Output tile height in pixels")
	flag.StringVar(&codec, "codec", "jpeg", "Frame codec: jpeg, jpeg2000, raw (alias none)")
	flag.IntVar(&quality, "quality", 80, "JPEG quality 1-100")
	flag.IntVar(&startLevel, "start-level", -1, "First level to emit (-1 = none)")
	flag.IntVar(&stopLevel, "stop-level", -1, "Last level to emit (-1 = last)")
	flag.IntVar(&retileLevels, "retile-levels", 0, "Number of output levels to produce; 0 = mirror source pyramid")
	flag.StringVar(&downsamples, "downsamples", "", "Comma-separated per-level downsample factors")
	flag.BoolVar(&tiled, "tiled", true, "DENSE layout (tiled-full); false = SPARSE")
	flag.IntVar(&batchLimit, "batch-limit", 0, "Max frames per instance; <=0 = unlimited")
	flag.IntVar(&threads, "threads", 0, "Worker pool size; <=0 = hardware concurrency")
	flag.BoolVar(&stopAtSingle, "stop-downsampling-at-single-frame", false, "Truncate plan when a level fits in one tile")
	flag.BoolVar(&useBilinear, "use-bilinear", false, "Use the bilinear resampler")
	flag.StringVar(&openCVMethod, "opencv-method", "", "OpenCV-style resampler kernel: nearest, bilinear, cubic, area, lanczos4, linear-exact")
	flag.BoolVar(&floorCorrect, "floor-correct-downsampling", false, "Floor the source downsample for pixel alignment")
	flag.BoolVar(&progressive, "progressive-downsample", false, "Prefer the previous output level as pixel source")
	flag.BoolVar(&cropUniform, "crop-to-uniform-pixel-spacing", false, "Crop level dimensions to multiples of tile size")
	flag.StringVar(&studyID, "study-id", "", "Study Instance UID (generated if empty)")
	flag.StringVar(&seriesID, "series-id", "", "Series Instance UID (generated if empty)")
	flag.StringVar(&imageName, "image-name", "", "Content label for the generated instances")
	flag.StringVar(&jsonTagFile, "json-tag-file", "", "JSON file of extra DICOM tags merged in last")
	flag.BoolVar(&debug, "debug", false, "Verbose logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wsi2dcm [flags] <input-file>\n\n")
		fmt.Fprintf(os.Stderr, "Convert a whole-slide image into a tiled DICOM pyramid.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("wsi2dcm %s (commit %s)\n", version, commit)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		os.Exit(1)
	}
	inputPath := args[0]

	cfg := pyramid.DefaultConfig()
	cfg.InputPath = inputPath
	cfg.OutputDir = outputDir
	cfg.FrameWidth = frameWidth
	cfg.FrameHeight = frameHeight
	cfg.Quality = quality
	cfg.StartLevel = startLevel
	cfg.StopLevel = stopLevel
	cfg.RetileLevels = retileLevels
	cfg.Tiled = tiled
	cfg.BatchLimit = batchLimit
	cfg.Threads = threads
	cfg.StopDownsamplingAtSingleFrame = stopAtSingle
	cfg.UseBilinear = useBilinear
	cfg.FloorCorrectDownsampling = floorCorrect
	cfg.ProgressiveDownsample = progressive
	cfg.CropToUniformPixelSpacing = cropUniform
	cfg.StudyID = studyID
	cfg.SeriesID = seriesID
	cfg.ImageName = imageName
	cfg.JSONTagFile = jsonTagFile
	cfg.Debug = debug

	var err error
	cfg.Codec, err = pyramid.ParseCodec(codec)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}

	if openCVMethod != "" {
		cfg.OpenCVMethod, err = parseOpenCVMethod(openCVMethod)
		if err != nil {
			log.Fatalf("opencv-method: %v", err)
		}
	}

	if downsamples != "" {
		cfg.Downsamples, err = parseDownsamples(downsamples)
		if err != nil {
			log.Fatalf("downsamples: %v", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	source, err := openSource(inputPath)
	if err != nil {
		log.Fatalf("opening source: %v", err)
	}
	defer source.Close()

	identity := buildIdentity(cfg)

	extraTags := loadExtraTags(jsonTagFile)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Fatalf("creating output directory: %v", err)
	}

	scheduler := pyramid.NewScheduler(cfg, source, identity, extraTags)
	if err := scheduler.Run(); err != nil {
		log.Printf("conversion failed: %v", err)
		os.Exit(1)
	}

	if debug {
		log.Printf("done")
	}
}

func buildIdentity(cfg pyramid.Config) pyramid.SeriesIdentity {
	studyUID := cfg.StudyID
	if studyUID == "" {
		studyUID = pyramid.NewStudyInstanceUID()
	}
	seriesUID := cfg.SeriesID
	if seriesUID == "" {
		seriesUID = pyramid.NewSeriesInstanceUID()
	}
	return pyramid.SeriesIdentity{
		StudyInstanceUID:  studyUID,
		SeriesInstanceUID: seriesUID,
		ImageName:         cfg.ImageName,
	}
}

func openSource(path string) (wsisource.Source, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".dcm"):
		return wsisource.OpenDICOMPyramidLevel([]string{path})
	case strings.HasSuffix(lower, ".tif"), strings.HasSuffix(lower, ".tiff"), strings.HasSuffix(lower, ".svs"):
		return wsisource.OpenTIFF(path)
	default:
		return wsisource.OpenImage(path)
	}
}

func parseOpenCVMethod(s string) (pyramid.OpenCVMethod, error) {
	switch s {
	case "nearest":
		return pyramid.OpenCVNearest, nil
	case "bilinear":
		return pyramid.OpenCVBilinear, nil
	case "cubic":
		return pyramid.OpenCVCubic, nil
	case "area":
		return pyramid.OpenCVArea, nil
	case "lanczos4":
		return pyramid.OpenCVLanczos4, nil
	case "linear-exact":
		return pyramid.OpenCVLinearExact, nil
	default:
		return pyramid.OpenCVNone, fmt.Errorf("unknown opencv method %q", s)
	}
}

func parseDownsamples(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// loadExtraTags reads a flat JSON object of tag-keyword/value pairs and
// merges them in as DICOM elements last, overriding any core tag with
// the same keyword. Unrecognized keywords are logged once and skipped;
// an unreadable or malformed file is fatal.
func loadExtraTags(path string) []*dicom.Element {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("json-tag-file: %v", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Fatalf("json-tag-file: %v", err)
	}
	elems, err := pyramid.BuildExtraTags(raw)
	if err != nil {
		log.Printf("json-tag-file: %v", err)
	}
	return elems
}
