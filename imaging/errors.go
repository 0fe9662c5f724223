package imaging

import (
	"errors"

	"mkimg/ledger"
)

// Error kinds. Returned errors wrap one of these; test with errors.Is.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotOpenable      = errors.New("resource cannot be opened")
	ErrNotSeekable      = errors.New("resource is not seekable")
	ErrRead             = errors.New("read error")
	ErrWrite            = errors.New("write error")
	ErrAllocation       = errors.New("allocation failure")
	ErrHashMismatch     = errors.New("hash mismatch")
	ErrSizeMismatch     = errors.New("size mismatch")
	ErrCancelled        = errors.New("cancelled")
)

// CodeFor maps an error kind to the ledger status code.
func CodeFor(err error) ledger.Code {
	switch {
	case err == nil:
		return ledger.CodeOK
	case errors.Is(err, ErrInvalidParameter):
		return ledger.CodeInvalid
	case errors.Is(err, ErrNotSeekable):
		return ledger.CodeSeek
	case errors.Is(err, ErrHashMismatch):
		return ledger.CodeHashMismatch
	case errors.Is(err, ErrSizeMismatch):
		return ledger.CodeSizeMismatch
	case errors.Is(err, ErrAllocation):
		return ledger.CodeAllocation
	case errors.Is(err, ErrCancelled):
		return ledger.CodeCancelled
	}
	return ledger.CodeIO
}

// ExitCode is the final classification of a job.
type ExitCode int

const (
	ExitUnknown ExitCode = iota
	// ExitSuccess: complete, no bad sectors, and the image verified.
	ExitSuccess
	// ExitCompleted: complete, no bad sectors, not verified.
	ExitCompleted
	// ExitPartial: complete, but some sectors were filled.
	ExitPartial
	ExitAborted
	ExitFailed
	ExitVerifyFailed
)

func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitCompleted:
		return "completed"
	case ExitPartial:
		return "partial"
	case ExitAborted:
		return "aborted"
	case ExitFailed:
		return "failed"
	case ExitVerifyFailed:
		return "verify-failed"
	}
	return "unknown"
}

// Status is the footer wording.
func (e ExitCode) Status() string {
	switch e {
	case ExitSuccess:
		return "SUCCESS"
	case ExitCompleted:
		return "COMPLETED"
	case ExitPartial:
		return "PARTIAL (with errors)"
	case ExitAborted:
		return "ABORTED"
	case ExitFailed:
		return "FAILED"
	case ExitVerifyFailed:
		return "VERIFICATION FAILED"
	}
	return "UNKNOWN"
}

// MarshalText lets summaries carry the short name.
func (e ExitCode) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText parses the short name.
func (e *ExitCode) UnmarshalText(b []byte) error {
	for c := ExitSuccess; c <= ExitVerifyFailed; c++ {
		if c.String() == string(b) {
			*e = c
			return nil
		}
	}
	*e = ExitUnknown
	return nil
}

// Classify derives the exit code of a finished run. verified is nil when no
// verification ran.
func Classify(fatal, cancelled bool, badSectors uint64, verified *bool) ExitCode {
	switch {
	case fatal:
		return ExitFailed
	case cancelled:
		return ExitAborted
	case verified != nil && !*verified:
		return ExitVerifyFailed
	case badSectors > 0:
		return ExitPartial
	case verified != nil:
		return ExitSuccess
	}
	return ExitCompleted
}
