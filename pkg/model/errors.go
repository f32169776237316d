package model

import (
	"github.com/m-mizutani/goerr/v2"
)

// Error taxonomy of the analysis pipeline. Errors are classified by goerr tag
// so that the cause chain and attached values are preserved.
var (
	ErrTagProvider    = goerr.NewTag("provider_error")
	ErrTagExtraction  = goerr.NewTag("extraction_error")
	ErrTagPersistence = goerr.NewTag("persistence_error")
)

// ErrorKind is a coarse classification of a pipeline error
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindProvider    ErrorKind = "provider"
	ErrorKindExtraction  ErrorKind = "extraction"
	ErrorKindPersistence ErrorKind = "persistence"
	ErrorKindUnknown     ErrorKind = "unknown"
)

// KindOf returns the ErrorKind of err. A failed call to the extraction
// service carries both tags and is reported as extraction.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case goerr.HasTag(err, ErrTagExtraction):
		return ErrorKindExtraction
	case goerr.HasTag(err, ErrTagProvider):
		return ErrorKindProvider
	case goerr.HasTag(err, ErrTagPersistence):
		return ErrorKindPersistence
	default:
		return ErrorKindUnknown
	}
}
