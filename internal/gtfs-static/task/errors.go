package task

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAgencyKey = errors.New("no agency key provided")
	ErrMissingSource    = errors.New("no agency url or path provided")
)

// ConfigurationError means the agency description cannot be imported as
// given.
type ConfigurationError struct {
	AgencyKey string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.AgencyKey == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration for %s: %v", e.AgencyKey, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AcquisitionError means the feed could not be downloaded or extracted.
type AcquisitionError struct {
	AgencyKey string
	Source    string
	Err       error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquiring %s for %s: %v", e.Source, e.AgencyKey, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ParseError means a feed file is malformed. It aborts the agency import.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parsing %s line %d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("parsing %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
