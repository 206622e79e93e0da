package pyramid

import (
	"errors"
	"fmt"
)

var (
	errNoInstances       = errors.New("region reader: no instances given")
	errDimensionMismatch = errors.New("region reader: instances disagree on frame or image dimensions")
)

// ConfigError reports a missing or invalid configuration option. It is
// surfaced immediately and is never fatal to the process — exit code 1.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Option, e.Reason)
}

// SourceOpenError reports that the input file could not be opened or
// parsed. Fatal before any work starts.
type SourceOpenError struct {
	Path string
	Err  error
}

func (e *SourceOpenError) Error() string {
	return fmt.Sprintf("opening source %s: %v", e.Path, e.Err)
}

func (e *SourceOpenError) Unwrap() error { return e.Err }

// SourceReadError reports a read_region or tile-decode failure during
// work. Fatal to the job.
type SourceReadError struct {
	Level int
	Err   error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("reading source at level %d: %v", e.Level, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// EncodeError reports that a codec refused the input. Fatal to the job.
type EncodeError struct {
	Codec string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoding with %s: %v", e.Codec, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// MetadataError reports that a required DICOM tag insertion failed.
// Fatal to the instance and therefore the job.
type MetadataError struct {
	Tag string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("setting tag %s: %v", e.Tag, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// IOError reports a file write failure. Fatal to the job; no rollback.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
