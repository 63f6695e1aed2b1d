package filetransfer

import (
	"fmt"
	"path/filepath"
)

// Reason classifies a failed transfer.
type Reason int

const (
	// ReasonStalled means no bytes arrived within the idle timeout.
	ReasonStalled Reason = iota + 1
	// ReasonIncomplete means the sender closed before the declared size arrived.
	ReasonIncomplete
	// ReasonArchive means the archive could not be opened or extracted.
	ReasonArchive
	// ReasonIO covers local file errors, dial errors and cancellation.
	ReasonIO
)

func (r Reason) String() string {
	switch r {
	case ReasonStalled:
		return "stalled"
	case ReasonIncomplete:
		return "incomplete"
	case ReasonArchive:
		return "archive"
	case ReasonIO:
		return "io"
	default:
		return "unknown"
	}
}

// Outcome is the result of one transfer: either Completed or Failed.
type Outcome interface {
	isOutcome()
}

// Completed is a transfer that was fully received (and extracted, for archives).
type Completed struct {
	FileName   string
	Path       string
	Size       int64
	WasArchive bool
	// Entries are the extracted file names, relative to the archive's
	// directory, in archive order.
	Entries []string

	stageDir string
}

// Failed is a transfer that did not produce a usable file.
type Failed struct {
	FileName string
	Reason   Reason
	Err      error
}

func (Completed) isOutcome() {}
func (Failed) isOutcome()    {}

// Dir returns the directory holding the file and any extracted entries.
func (c Completed) Dir() string {
	if c.stageDir != "" {
		return c.stageDir
	}
	return filepath.Dir(c.Path)
}

func (f Failed) Error() string {
	return fmt.Sprintf("transfer of %s failed (%s): %v", f.FileName, f.Reason, f.Err)
}

func (f Failed) Unwrap() error {
	return f.Err
}
