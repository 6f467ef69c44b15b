package ipc

import (
	"doorkeeper/internal/api"
	"doorkeeper/internal/configbus"
)

const serviceName = "Doorkeeper"

// User mirrors the HTTP API identity DTO.
type User = api.User

// Image mirrors the HTTP API sample DTO.
type Image = api.Image

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and capture status.
type StatusResponse struct {
	Running           bool            `json:"running"`
	PID               int             `json:"pid"`
	LockPath          string          `json:"lock_path"`
	DatabasePath      string          `json:"database_path"`
	RuntimeConfigPath string          `json:"runtime_config_path"`
	APIAddress        string          `json:"api_address"`
	Video             api.VideoStatus `json:"video"`
	Channels          []string        `json:"channels"`
}

// VideoRequest starts, stops, or toggles capture.
type VideoRequest struct{}

// VideoResponse carries the capture control outcome.
type VideoResponse struct {
	Message string `json:"message"`
}

// IdentityListRequest lists identities.
type IdentityListRequest struct{}

// IdentityListResponse contains every identity.
type IdentityListResponse struct {
	Users []User `json:"users"`
}

// IdentityAddRequest creates an identity.
type IdentityAddRequest struct {
	Name        string `json:"name"`
	AccessLevel string `json:"access_level"`
}

// IdentityUpdateRequest renames an identity or changes its access level.
type IdentityUpdateRequest struct {
	ID          int64   `json:"id"`
	Name        *string `json:"name,omitempty"`
	AccessLevel *string `json:"access_level,omitempty"`
}

// IdentityResponse contains one identity.
type IdentityResponse struct {
	User User `json:"user"`
}

// IdentityRemoveRequest deletes an identity and its samples.
type IdentityRemoveRequest struct {
	ID int64 `json:"id"`
}

// IdentityRemoveResponse confirms a deletion.
type IdentityRemoveResponse struct {
	Removed bool `json:"removed"`
}

// SampleListRequest lists an identity's samples.
type SampleListRequest struct {
	ID int64 `json:"id"`
}

// SampleListResponse contains sample descriptors.
type SampleListResponse struct {
	Images []Image `json:"images"`
}

// SampleAddRequest enrolls a sample from a JPEG or a precomputed embedding.
// Image takes precedence when both are set.
type SampleAddRequest struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	Image     []byte    `json:"image,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// SampleRemoveRequest removes one sample.
type SampleRemoveRequest struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// ConfigGetRequest reads one section, or all of them when Section is empty.
type ConfigGetRequest struct {
	Section string `json:"section"`
}

// ConfigGetResponse contains the requested sections.
type ConfigGetResponse struct {
	Sections map[string]configbus.Document `json:"sections"`
}

// ConfigSetRequest replaces a section.
type ConfigSetRequest struct {
	Section  string             `json:"section"`
	Document configbus.Document `json:"document"`
}

// ConfigSetResponse returns the stored section.
type ConfigSetResponse struct {
	Section  string             `json:"section"`
	Document configbus.Document `json:"document"`
}

// TestNotificationRequest sends a test alert.
type TestNotificationRequest struct{}

// ChannelResult is the delivery outcome on one channel.
type ChannelResult struct {
	Channel string `json:"channel"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// TestNotificationResponse lists per-channel outcomes.
type TestNotificationResponse struct {
	Results []ChannelResult `json:"results"`
}
