package api

import (
	"time"

	"doorkeeper/internal/configbus"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/runtime"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// User is the transport form of an identity.
type User struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	AccessLevel   string `json:"access_level"`
	NumEmbeddings int    `json:"num_embeddings"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	Name        string `json:"name"`
	AccessLevel string `json:"access_level"`
}

// UpdateUserRequest is the body of PATCH /users/{id}. Omitted fields are
// left unchanged.
type UpdateUserRequest struct {
	Name        *string `json:"name,omitempty"`
	AccessLevel *string `json:"access_level,omitempty"`
}

// Image describes an enrolled sample.
type Image struct {
	ImgName   string `json:"img_name"`
	UserID    int64  `json:"user_id"`
	CreatedAt string `json:"created_at,omitempty"`
	Message   string `json:"message,omitempty"`
}

// EmbeddingRequest enrolls a precomputed embedding instead of an image.
type EmbeddingRequest struct {
	Label     string    `json:"label"`
	Embedding []float32 `json:"embedding"`
}

// ConfigSectionResponse is returned by PUT /config/{section}.
type ConfigSectionResponse struct {
	Section string             `json:"section"`
	Config  configbus.Document `json:"config"`
}

// VideoResponse carries the outcome of a capture control call.
type VideoResponse struct {
	VideoStatus string `json:"video_status"`
}

// VideoStatus describes the capture session.
type VideoStatus struct {
	VideoStatus     string `json:"video_status"`
	SessionID       string `json:"session_id,omitempty"`
	StartedAt       string `json:"started_at,omitempty"`
	FramesProcessed uint64 `json:"frames_processed"`
	FrameErrors     uint64 `json:"frame_errors"`
	LastError       string `json:"last_error,omitempty"`
	DoorBusy        bool   `json:"door_busy"`
	CachedUsers     int    `json:"cached_users"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// FromIdentity converts a stored identity.
func FromIdentity(ident identity.Identity) User {
	return User{
		ID:            ident.ID,
		Name:          ident.DisplayName,
		AccessLevel:   string(ident.AccessLevel),
		NumEmbeddings: ident.SampleCount,
		CreatedAt:     formatTime(ident.CreatedAt),
		UpdatedAt:     formatTime(ident.UpdatedAt),
	}
}

// FromSample converts a stored sample.
func FromSample(sample identity.Sample) Image {
	return Image{
		ImgName:   sample.Label,
		UserID:    sample.IdentityID,
		CreatedAt: formatTime(sample.CreatedAt),
	}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(dateTimeFormat)
}

// FromRuntimeStatus converts a capture session snapshot.
func FromRuntimeStatus(st runtime.Status) VideoStatus {
	out := VideoStatus{
		VideoStatus:     "Stopped",
		SessionID:       st.SessionID,
		FramesProcessed: st.FramesProcessed,
		FrameErrors:     st.FrameErrors,
		LastError:       st.LastError,
		DoorBusy:        st.DoorBusy,
		CachedUsers:     st.CachedIdentities,
	}
	if st.Running {
		out.VideoStatus = "Running"
		out.StartedAt = formatTime(st.StartedAt)
	}
	return out
}
