package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"

	"doorkeeper/internal/embedding"
	"doorkeeper/internal/liveness"
)

// ErrNoFace is returned by an Embedder when the frame holds no usable face.
var ErrNoFace = errors.New("no face found in image")

// Frame is one captured image. JPEG holds the encoded bytes as received,
// when available.
type Frame struct {
	Image      image.Image
	JPEG       []byte
	Seq        uint64
	CapturedAt time.Time
}

// Size returns the frame dimensions.
func (f Frame) Size() (int, int) {
	if f.Image == nil {
		return 0, 0
	}
	b := f.Image.Bounds()
	return b.Dx(), b.Dy()
}

// Crop returns the part of the frame inside r. The encoded bytes are dropped.
func (f Frame) Crop(r image.Rectangle) Frame {
	out := Frame{Seq: f.Seq, CapturedAt: f.CapturedAt}
	if f.Image == nil {
		return out
	}
	r = r.Intersect(f.Image.Bounds())
	if sub, ok := f.Image.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		out.Image = sub.SubImage(r)
		return out
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, f.Image, r, draw.Src, nil)
	out.Image = dst
	return out
}

// EncodeJPEG returns the frame as JPEG, reusing the original bytes when the
// frame has not been cropped.
func (f Frame) EncodeJPEG(quality int) ([]byte, error) {
	if len(f.JPEG) > 0 {
		return f.JPEG, nil
	}
	if f.Image == nil {
		return nil, errors.New("frame has no image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame builds a frame from JPEG bytes.
func DecodeFrame(data []byte) (Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode jpeg: %w", err)
	}
	return Frame{Image: img, JPEG: data, CapturedAt: time.Now()}, nil
}

// FrameSource produces frames. Read returns io.EOF once the source is
// exhausted.
type FrameSource interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// NormalizedPoint is a landmark in [0,1] image coordinates.
type NormalizedPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Face is one detected face mesh.
type Face struct {
	Landmarks []NormalizedPoint
}

// Pixels scales the landmarks to a width x height frame.
func (f Face) Pixels(width, height int) liveness.Landmarks {
	out := make(liveness.Landmarks, len(f.Landmarks))
	for i, p := range f.Landmarks {
		out[i] = liveness.Point{X: float64(int(p.X * float64(width))), Y: float64(int(p.Y * float64(height)))}
	}
	return out
}

// Box returns the landmark bounding box grown by pad pixels and clamped to
// the frame.
func (f Face) Box(width, height, pad int) image.Rectangle {
	if len(f.Landmarks) == 0 {
		return image.Rectangle{}
	}
	x0, y0, x1, y1 := width, height, 0, 0
	for _, p := range f.Landmarks {
		x, y := int(p.X*float64(width)), int(p.Y*float64(height))
		x0, y0 = min(x0, x), min(y0, y)
		x1, y1 = max(x1, x), max(y1, y)
	}
	return image.Rect(max(x0-pad, 0), max(y0-pad, 0), min(x1+pad, width), min(y1+pad, height))
}

// PrimaryFace returns the face with the largest non-empty bounding box. Ties
// keep the earlier face. Liveness and alert state track a single subject, so the
// pipeline evaluates only this face.
func PrimaryFace(faces []Face, width, height int) (Face, bool) {
	best, bestArea := -1, -1
	for i, f := range faces {
		box := f.Box(width, height, 0)
		if box.Empty() {
			continue
		}
		if area := box.Dx() * box.Dy(); area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return Face{}, false
	}
	return faces[best], true
}

// LandmarkExtractor finds face meshes in a frame.
type LandmarkExtractor interface {
	Process(ctx context.Context, frame Frame) ([]Face, error)
}

// Embedder turns the face in a frame into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, frame Frame) (embedding.Vector, error)
}
