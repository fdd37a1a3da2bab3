package engine

import (
	"errors"
	"fmt"
)

// ErrCompileInProgress rejects a second Compile while one is active. The
// engine never runs two operations against shared transfer/job state.
var ErrCompileInProgress = errors.New("a compilation is already in progress")

// ValidationError reports bad input. It is never retried and surfaces
// immediately, before any network activity.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "invalid timeline: " + e.Detail
}

// CancelledError reports user-initiated cancellation. It is surfaced
// distinctly from failures so the editor can avoid rendering it as an error.
type CancelledError struct{}

func (*CancelledError) Error() string { return "compilation cancelled" }

// UnresolvedAssetError means a clip references an asset with no transferred
// counterpart at submission time. It should be unreachable when the transfer
// step succeeded; it escalates to the fallback tier like any remote failure.
type UnresolvedAssetError struct {
	AssetID string
}

func (e *UnresolvedAssetError) Error() string {
	return fmt.Sprintf("no transferred asset for %s", e.AssetID)
}
