// Package inference defines the detection engine boundary: given a
// file path, an Engine returns a list of detections. The transport and
// service layers treat the engine as an opaque capability, so real
// implementations can be swapped in without touching messaging code.
package inference

import "context"

// BoundingBox locates a detection in normalized XYXY coordinates.
// All values are in [0,1] with (0,0) the top-left image corner, and
// X1<=X2, Y1<=Y2.
type BoundingBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// Width returns the box width in normalized coordinates.
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in normalized coordinates.
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// CenterX returns the box center X in normalized coordinates.
func (b BoundingBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// CenterY returns the box center Y in normalized coordinates.
func (b BoundingBox) CenterY() float64 { return (b.Y1 + b.Y2) / 2 }

// Detection is one classified target reported by an engine.
type Detection struct {
	// Classification is the target type label.
	Classification string
	// Confidence is in [0,1], 1 highest. The service applies its
	// own threshold filtering; engines should not pre-filter
	// aggressively.
	Confidence float64
	// Box locates the detection in the source image.
	Box BoundingBox
	// OutputFilePath optionally points at a chip artifact written
	// during processing. Empty when no artifact was produced.
	OutputFilePath string
}

// Engine processes imagery files into detections.
//
// Process is called once per inbound file-location notification, on
// the transport's receive goroutine, with no timeout imposed by the
// caller. Implementations must be safe for that calling pattern and
// should honor ctx for long-running work.
type Engine interface {
	Process(ctx context.Context, path string) ([]Detection, error)
}
