package vision_test

import (
	"context"
	"errors"
	"testing"

	"doorkeeper/internal/configbus"
	"doorkeeper/internal/embedding"
	"doorkeeper/internal/facecache"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/vision"
)

type fixedEmbedder struct {
	vec embedding.Vector
	err error
}

func (f fixedEmbedder) Embed(context.Context, vision.Frame) (embedding.Vector, error) {
	return f.vec, f.err
}

func candidates() []facecache.Candidate {
	return []facecache.Candidate{
		{ID: 1, Name: "Ada", Access: identity.AccessAdmin, Mean: embedding.Vector{1, 0, 0}},
		{ID: 2, Name: "Fay", Access: identity.AccessFriend, Mean: embedding.Vector{0, 1, 0}},
	}
}

func TestRecognizerPicksBestAboveThreshold(t *testing.T) {
	r := vision.NewRecognizer(fixedEmbedder{vec: embedding.Vector{0.2, 0.9, 0}}, nil)
	match, err := r.Match(context.Background(), vision.Frame{}, candidates())
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !match.Known || match.ID != 2 || match.Label != "Fay" || match.Access != identity.AccessFriend {
		t.Fatalf("unexpected match %+v", match)
	}
	if !r.Verified() {
		t.Fatal("expected verified after a known match")
	}
	r.Reset()
	if r.Verified() {
		t.Fatal("Reset should clear verified")
	}
}

func TestRecognizerVerifiedFollowsBestMatch(t *testing.T) {
	// The probe matches Ada strongly and Fay weakly; the weaker, later
	// comparison must not clear the verified flag.
	r := vision.NewRecognizer(fixedEmbedder{vec: embedding.Vector{0.95, 0.1, 0}}, nil)
	match, err := r.Match(context.Background(), vision.Frame{}, candidates())
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match.Label != "Ada" || !r.Verified() {
		t.Fatalf("expected verified Ada, got %+v verified=%v", match, r.Verified())
	}
}

func TestRecognizerUnknownBelowThreshold(t *testing.T) {
	r := vision.NewRecognizer(fixedEmbedder{vec: embedding.Vector{1, 1, 1}}, nil)
	r.Apply(configbus.Document{"model": "buffalo_s", "similarity_threshold": 0.9, "providers": []any{"CPUExecutionProvider"}})
	if r.Threshold() != 0.9 {
		t.Fatalf("threshold = %v", r.Threshold())
	}
	match, err := r.Match(context.Background(), vision.Frame{}, candidates())
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match.Known || match.Label != vision.UnknownLabel || r.Verified() {
		t.Fatalf("expected unknown, got %+v", match)
	}
}

func TestRecognizerEmbedError(t *testing.T) {
	r := vision.NewRecognizer(fixedEmbedder{err: vision.ErrNoFace}, nil)
	match, err := r.Match(context.Background(), vision.Frame{}, candidates())
	if !errors.Is(err, vision.ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}
	if match.Label != vision.UnknownLabel {
		t.Fatalf("unexpected label %q", match.Label)
	}
}

func TestRecognizerSkipsMismatchedDimensions(t *testing.T) {
	r := vision.NewRecognizer(fixedEmbedder{vec: embedding.Vector{1, 0}}, nil)
	match, err := r.Match(context.Background(), vision.Frame{}, candidates())
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match.Known {
		t.Fatalf("expected no match across dimensions, got %+v", match)
	}
}
