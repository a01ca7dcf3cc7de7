// Package opserr holds the error types returned by orchestrator operations.
// Every type works with errors.As; the two class sentinels work with errors.Is.
package opserr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPrecondition marks failures detected before any side effect took place.
	ErrPrecondition = errors.New("precondition failed")
	// ErrTimeout marks any bounded wait that ran out of time.
	ErrTimeout = errors.New("timed out")
)

type PreconditionError struct {
	Reason string
}

func Precondition(format string, args ...any) *PreconditionError {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

// ExternalProcessError is a non-zero exit of an invoked command.
type ExternalProcessError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalProcessError) Error() string {
	msg := fmt.Sprintf("%s %s exited with code %d", e.Command, strings.Join(e.Args, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExternalProcessError) Unwrap() error {
	return e.Err
}

// TimeoutError is a generic bounded wait that elapsed.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

type HealthTimeoutError struct {
	Service    string
	Timeout    time.Duration
	LastStatus string
}

func (e *HealthTimeoutError) Error() string {
	return fmt.Sprintf("service %s did not become healthy within %s (last status: %s)", e.Service, e.Timeout, e.LastStatus)
}

func (e *HealthTimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// PartialUpgradeError reports a rolling upgrade aborted part way.
// Upgraded services stay on the new tag.
type PartialUpgradeError struct {
	Failed    string
	Upgraded  []string
	Remaining []string
	Err       error
}

func (e *PartialUpgradeError) Error() string {
	return fmt.Sprintf("rolling upgrade aborted at %s (upgraded: [%s], not attempted: [%s]): %v",
		e.Failed, strings.Join(e.Upgraded, ", "), strings.Join(e.Remaining, ", "), e.Err)
}

func (e *PartialUpgradeError) Unwrap() error {
	return e.Err
}

type SnapshotPodFailedError struct {
	Pod  string
	Logs string
}

func (e *SnapshotPodFailedError) Error() string {
	return fmt.Sprintf("snapshot pod %s failed\n%s", e.Pod, e.Logs)
}

type SnapshotTimeoutError struct {
	Pod     string
	Timeout time.Duration
	Logs    string
}

func (e *SnapshotTimeoutError) Error() string {
	return fmt.Sprintf("snapshot pod %s did not complete within %s\n%s", e.Pod, e.Timeout, e.Logs)
}

func (e *SnapshotTimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

type UnsupportedArchiveError struct {
	Name string
}

func (e *UnsupportedArchiveError) Error() string {
	return fmt.Sprintf("unsupported snapshot archive format: %s (expected .tar, .tar.gz, .tgz, .tar.zst or .zst)", e.Name)
}

// UpgradeNotConfirmedError means the upgrade extrinsic finalized but the
// finalized block carries no code-updated event.
type UpgradeNotConfirmedError struct {
	BlockHash string
}

func (e *UpgradeNotConfirmedError) Error() string {
	return fmt.Sprintf("runtime upgrade finalized in block %s but no System.CodeUpdated event was found", e.BlockHash)
}

type DispatchError struct {
	Module string
	Name   string
	Docs   string
}

func (e *DispatchError) Error() string {
	if e.Module == "" {
		return "dispatch error: " + e.Name
	}
	msg := fmt.Sprintf("dispatch error: %s.%s", e.Module, e.Name)
	if e.Docs != "" {
		msg += ": " + e.Docs
	}
	return msg
}
