package extract

import (
	"errors"
	"fmt"
)

// Kind classifies why extraction did not produce text.
type Kind string

const (
	KindUnsupportedType  Kind = "unsupported_file_type"
	KindExtractionFailed Kind = "extraction_failed"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrExtractionFailed    = errors.New("extraction failed")
)

// Error is returned by every extractor. Match it with errors.Is against the
// sentinels above, or read the kind with KindOf.
type Error struct {
	Kind         Kind
	DocumentType string
	Err          error
}

func (e *Error) Error() string {
	if e.Kind == KindUnsupportedType {
		return fmt.Sprintf("unsupported file type for processing: %q", e.DocumentType)
	}
	if e.Err == nil {
		return fmt.Sprintf("extract %s: extraction failed", e.DocumentType)
	}
	return fmt.Sprintf("extract %s: %v", e.DocumentType, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnsupportedFileType:
		return e.Kind == KindUnsupportedType
	case ErrExtractionFailed:
		return e.Kind == KindExtractionFailed
	}
	return false
}

// KindOf reports the extraction kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func unsupported(docType string) error {
	return &Error{Kind: KindUnsupportedType, DocumentType: docType}
}

func failed(docType string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindExtractionFailed, DocumentType: docType, Err: err}
}
