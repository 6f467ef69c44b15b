package vision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"doorkeeper/internal/configbus"
	"doorkeeper/internal/embedding"
	"doorkeeper/internal/facecache"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/logging"
)

// UnknownLabel names a face that matched no enrolled identity.
const UnknownLabel = "Unknown"

const defaultSimilarityThreshold = 0.6

// Match is the best candidate for a face.
type Match struct {
	ID     int64
	Label  string
	Score  float64
	Access identity.AccessLevel
	Known  bool
}

// Recognizer compares face embeddings against cached identity means by cosine
// similarity. Candidate means are unit vectors, so the dot product is the
// cosine.
type Recognizer struct {
	embedder Embedder
	logger   *slog.Logger

	mu        sync.Mutex
	threshold float64
	model     string
	verified  bool
}

// NewRecognizer returns a recognizer with the default threshold.
func NewRecognizer(embedder Embedder, logger *slog.Logger) *Recognizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recognizer{
		embedder:  embedder,
		logger:    logging.NewComponentLogger(logger, "recognizer"),
		threshold: defaultSimilarityThreshold,
	}
}

// Match embeds the face in frame and returns the best candidate scoring
// above the threshold. Verified reflects the outcome of the latest Match.
func (r *Recognizer) Match(ctx context.Context, frame Frame, candidates []facecache.Candidate) (Match, error) {
	vec, err := r.embedder.Embed(ctx, frame)
	if err != nil {
		return Match{Label: UnknownLabel, Score: -1}, err
	}
	probe, err := embedding.Normalize(vec)
	if err != nil {
		return Match{Label: UnknownLabel, Score: -1}, fmt.Errorf("normalize probe: %w", err)
	}

	r.mu.Lock()
	threshold := r.threshold
	r.mu.Unlock()

	best := Match{Label: UnknownLabel, Score: -1}
	for _, c := range candidates {
		score, err := embedding.Dot(probe, c.Mean)
		if err != nil {
			continue
		}
		if score > threshold && score > best.Score {
			best = Match{ID: c.ID, Label: c.Name, Score: score, Access: c.Access, Known: true}
		}
	}

	r.mu.Lock()
	r.verified = best.Known
	r.mu.Unlock()
	return best, nil
}

// Verified reports whether the latest match found a known identity.
func (r *Recognizer) Verified() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verified
}

// Reset clears the verified flag.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	r.verified = false
	r.mu.Unlock()
}

// Threshold returns the current similarity threshold.
func (r *Recognizer) Threshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

// Apply is the config bus listener for the face_recognition section.
func (r *Recognizer) Apply(doc configbus.Document) {
	section, err := configbus.Decode[configbus.FaceRecognition](doc)
	if err != nil {
		logging.WarnWithContext(r.logger, "ignoring undecodable face_recognition section", "recognizer_config_invalid",
			logging.Error(err))
		return
	}
	r.mu.Lock()
	changedModel := r.model != "" && r.model != section.Model
	r.threshold = section.SimilarityThreshold
	r.model = section.Model
	r.mu.Unlock()

	r.logger.Info("recognizer configured",
		logging.String(logging.FieldEventType, "recognizer_configured"),
		logging.String("model", section.Model),
		logging.Float64("similarity_threshold", section.SimilarityThreshold),
	)
	if changedModel {
		logging.WarnWithContext(r.logger, "model change requires re-enrolling samples", "recognizer_model_changed",
			logging.String("model", section.Model),
			logging.String(logging.FieldImpact, "existing embeddings were produced by a different model"),
			logging.String(logging.FieldErrorHint, "restart the inference sidecar with the new model and re-enroll"),
		)
	}
}
