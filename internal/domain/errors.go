package domain

import (
    "errors"
    "fmt"
    "strings"
)

var (
    ErrNotFound             = errors.New("not found")
    ErrLimsUnavailable      = errors.New("lims unavailable")
    ErrLibraryNotRegistered = errors.New("library not registered in repository")
    ErrRunNotReady          = errors.New("run not ready for processing")
    ErrTransferFailed       = errors.New("file transfer failed")
    ErrRemoteCommand        = errors.New("remote command failed")
    ErrSubmitFailed         = errors.New("cluster job submission failed")
    ErrUnrecognisedFilename = errors.New("unrecognised filename")
)

// DownloadError reports a raw-data download that failed after retrying.
type DownloadError struct {
    File     string
    Attempts int
    Err      error
}

func (e *DownloadError) Error() string {
    return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.File, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// PairingInconsistency is raised when downloaded files cannot be grouped into
// single or paired-end sets. It needs manual correction upstream.
type PairingInconsistency struct {
    Key      string
    Flowpair int
    Files    []string
    Reason   string
}

func (e *PairingInconsistency) Error() string {
    return fmt.Sprintf("pairing inconsistency for %s (flowpair %d): %s [%s]",
        e.Key, e.Flowpair, e.Reason, strings.Join(e.Files, ", "))
}

// MissingLibrariesError names the library codes the repository does not know.
type MissingLibrariesError struct {
    Codes []string
}

func (e *MissingLibrariesError) Error() string {
    return fmt.Sprintf("%s: %s", ErrLibraryNotRegistered, strings.Join(e.Codes, ", "))
}

func (e *MissingLibrariesError) Is(target error) bool { return target == ErrLibraryNotRegistered }

// IsDataInconsistency reports errors that need a human to fix upstream data.
func IsDataInconsistency(err error) bool {
    var pi *PairingInconsistency
    return errors.As(err, &pi) ||
        errors.Is(err, ErrLibraryNotRegistered) ||
        errors.Is(err, ErrUnrecognisedFilename)
}

// IsTransient reports failures of an upstream service that a later
// invocation may clear.
func IsTransient(err error) bool {
    var de *DownloadError
    return errors.As(err, &de) ||
        errors.Is(err, ErrLimsUnavailable) ||
        errors.Is(err, ErrTransferFailed) ||
        errors.Is(err, ErrRemoteCommand) ||
        errors.Is(err, ErrSubmitFailed)
}
