// Package pipeerr defines the stable error taxonomy shared by every pipeline
// stage: a discriminator Kind plus enough structured context (region, stage,
// upstream file, cause) that a human reading a failure can fix the problem
// without re-deriving it from a bare string.
package pipeerr

import (
	"encoding/json"
	"fmt"
)

// Kind is the stable discriminator for a pipeline failure.
type Kind string

const (
	UnknownRegion              Kind = "UnknownRegion"
	BoundaryNotFound           Kind = "BoundaryNotFound"
	BoundaryCatalogUnavailable Kind = "BoundaryCatalogUnavailable"
	ResolutionUnavailable      Kind = "ResolutionUnavailable"
	InvalidCoordinate          Kind = "InvalidCoordinate"
	InvalidBounds              Kind = "InvalidBounds"
	TileDownloadFailed         Kind = "TileDownloadFailed"
	TileCorrupt                Kind = "TileCorrupt"
	ClippingEmpty              Kind = "ClippingEmpty"
	ClippingMisaligned         Kind = "ClippingMisaligned"
	AspectRatioDrift           Kind = "AspectRatioDrift"
	VersionMismatch            Kind = "VersionMismatch"
	InvalidExport              Kind = "InvalidExport"
)

// PipelineError is the structured error every stage returns on failure.
type PipelineError struct {
	Kind         Kind   `json:"kind"`
	RegionID     string `json:"region_id,omitempty"`
	Stage        string `json:"stage,omitempty"`
	UpstreamPath string `json:"upstream_path,omitempty"`
	Cause        error  `json:"-"`
	CauseText    string `json:"cause,omitempty"`
}

// New builds a PipelineError. Pass a nil cause when the kind is self-explanatory.
func New(kind Kind, region, stage string, cause error) *PipelineError {
	e := &PipelineError{
		Kind:     kind,
		RegionID: region,
		Stage:    stage,
		Cause:    cause,
	}
	if cause != nil {
		e.CauseText = cause.Error()
	}
	return e
}

// WithUpstream attaches the upstream artifact path that triggered the failure.
func (e *PipelineError) WithUpstream(path string) *PipelineError {
	e.UpstreamPath = path
	return e
}

func (e *PipelineError) Error() string {
	if e.UpstreamPath != "" {
		return fmt.Sprintf("%s: stage=%s region=%s upstream=%s: %s", e.Kind, e.Stage, e.RegionID, e.UpstreamPath, e.CauseText)
	}
	return fmt.Sprintf("%s: stage=%s region=%s: %s", e.Kind, e.Stage, e.RegionID, e.CauseText)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// JSON renders the structured stderr body described in the error handling spec.
func (e *PipelineError) JSON() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return []byte(fmt.Sprintf(`{"kind":%q,"cause":"failed to marshal error"}`, e.Kind))
	}
	return b
}

// Is lets errors.Is(err, pipeerr.ResolutionUnavailable) work by comparing Kind
// when the target is itself a *PipelineError with no other fields set, or a
// bare Kind wrapped via KindError.
func (e *PipelineError) Is(target error) bool {
	other, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindError constructs a sentinel *PipelineError suitable for errors.Is checks
// against a Kind alone, e.g. errors.Is(err, pipeerr.KindError(pipeerr.ClippingEmpty)).
func KindError(k Kind) *PipelineError {
	return &PipelineError{Kind: k}
}
