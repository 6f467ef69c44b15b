package configbus

import (
	"errors"
	"fmt"
	"strings"
)

// Section names.
const (
	SectionFaceRecognition = "face_recognition"
	SectionBlink           = "blink_config"
	SectionOverlay         = "overlay"
	SectionNotifications   = "notifications"
	SectionTiming          = "timing"
)

// FaceRecognition tunes identity matching.
type FaceRecognition struct {
	Model               string   `json:"model"`
	SimilarityThreshold float64  `json:"similarity_threshold"`
	Providers           []string `json:"providers"`
}

// Blink tunes the liveness detector.
type Blink struct {
	EARThreshold   float64 `json:"ear_threshold"`
	ConsecFrames   int     `json:"blink_consec_frames"`
	BlinksToVerify int     `json:"blinks_to_verify"`
}

// Overlay tunes the annotated stream frames.
type Overlay struct {
	FontScale     float64 `json:"font_scale"`
	FontThickness int     `json:"font_thickness"`
	Mesh          bool    `json:"mesh"`
}

// Notifications selects alert channels and their recipients.
type Notifications struct {
	EnabledServices []string       `json:"enabled_services"`
	ConfigObjects   ChannelTargets `json:"config_objects"`
}

// ChannelTargets holds per-channel recipients. Credentials live in the static
// daemon config.
type ChannelTargets struct {
	Email *EmailTarget `json:"email,omitempty"`
	SMS   *SMSTarget   `json:"sms,omitempty"`
	Ntfy  *NtfyTarget  `json:"ntfy,omitempty"`
	MQTT  *MQTTTarget  `json:"mqtt,omitempty"`
}

type EmailTarget struct {
	Owner      string   `json:"owner"`
	Recipients []string `json:"recipients"`
}

type SMSTarget struct {
	Recipients []string `json:"recipients"`
}

type NtfyTarget struct {
	Topic string `json:"topic"`
}

type MQTTTarget struct {
	Broker string `json:"broker"`
	Topic  string `json:"topic"`
}

// Timing holds the policy windows, in seconds.
type Timing struct {
	NotificationCooldownSeconds float64 `json:"notification_cooldown_seconds"`
	UnknownAlertSeconds         float64 `json:"unknown_alert_seconds"`
	LivenessInactivitySeconds   float64 `json:"liveness_inactivity_seconds"`
	DoorDwellSeconds            float64 `json:"door_dwell_seconds"`
	DoorCooldownSeconds         float64 `json:"door_cooldown_seconds"`
}

// Channel names accepted in notifications.enabled_services.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelNtfy  = "ntfy"
	ChannelMQTT  = "mqtt"
)

// DefaultSchemas returns the doorkeeper sections in persistence order.
func DefaultSchemas() []Schema {
	return []Schema{
		NewSchema(SectionFaceRecognition, FaceRecognition{
			Model:               "buffalo_s",
			SimilarityThreshold: 0.6,
			Providers:           []string{"CPUExecutionProvider"},
		}, validateFaceRecognition),
		NewSchema(SectionNotifications, Notifications{
			EnabledServices: []string{},
		}, validateNotifications),
		NewSchema(SectionBlink, Blink{
			EARThreshold:   0.21,
			ConsecFrames:   2,
			BlinksToVerify: 2,
		}, validateBlink),
		NewSchema(SectionOverlay, Overlay{
			FontScale:     2,
			FontThickness: 2,
		}, validateOverlay),
		NewSchema(SectionTiming, Timing{
			NotificationCooldownSeconds: 300,
			UnknownAlertSeconds:         10,
			LivenessInactivitySeconds:   10,
			DoorDwellSeconds:            10,
			DoorCooldownSeconds:         5,
		}, validateTiming),
	}
}

func validateFaceRecognition(c *FaceRecognition) error {
	c.Model = strings.TrimSpace(c.Model)
	if c.Model == "" {
		return errors.New("model must not be empty")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1 {
		return errors.New("similarity_threshold must be between 0 and 1 (exclusive)")
	}
	if len(c.Providers) == 0 {
		c.Providers = []string{"CPUExecutionProvider"}
	}
	return nil
}

func validateBlink(c *Blink) error {
	if c.EARThreshold <= 0 || c.EARThreshold >= 1 {
		return errors.New("ear_threshold must be between 0 and 1 (exclusive)")
	}
	if c.ConsecFrames < 1 {
		return errors.New("blink_consec_frames must be at least 1")
	}
	if c.BlinksToVerify < 1 {
		return errors.New("blinks_to_verify must be at least 1")
	}
	return nil
}

func validateOverlay(c *Overlay) error {
	if c.FontScale <= 0 {
		return errors.New("font_scale must be positive")
	}
	if c.FontThickness < 1 {
		return errors.New("font_thickness must be at least 1")
	}
	return nil
}

func validateNotifications(c *Notifications) error {
	if c.EnabledServices == nil {
		c.EnabledServices = []string{}
	}
	seen := make(map[string]struct{}, len(c.EnabledServices))
	services := c.EnabledServices[:0]
	for _, raw := range c.EnabledServices {
		name := strings.ToLower(strings.TrimSpace(raw))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		services = append(services, name)

		targets := c.ConfigObjects
		switch name {
		case ChannelEmail:
			if targets.Email == nil || strings.TrimSpace(targets.Email.Owner) == "" {
				return errors.New("config_objects.email.owner is required when email is enabled")
			}
		case ChannelSMS:
			if targets.SMS == nil || len(targets.SMS.Recipients) == 0 {
				return errors.New("config_objects.sms.recipients is required when sms is enabled")
			}
		case ChannelNtfy:
			if targets.Ntfy == nil || strings.TrimSpace(targets.Ntfy.Topic) == "" {
				return errors.New("config_objects.ntfy.topic is required when ntfy is enabled")
			}
		case ChannelMQTT:
			if targets.MQTT == nil || strings.TrimSpace(targets.MQTT.Broker) == "" || strings.TrimSpace(targets.MQTT.Topic) == "" {
				return errors.New("config_objects.mqtt.broker and topic are required when mqtt is enabled")
			}
		default:
			return fmt.Errorf("unknown service %q", raw)
		}
	}
	c.EnabledServices = services
	return nil
}

func validateTiming(c *Timing) error {
	fields := []struct {
		name  string
		value float64
	}{
		{"notification_cooldown_seconds", c.NotificationCooldownSeconds},
		{"unknown_alert_seconds", c.UnknownAlertSeconds},
		{"liveness_inactivity_seconds", c.LivenessInactivitySeconds},
		{"door_dwell_seconds", c.DoorDwellSeconds},
		{"door_cooldown_seconds", c.DoorCooldownSeconds},
	}
	for _, f := range fields {
		if f.value < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
	}
	if c.LivenessInactivitySeconds == 0 {
		return errors.New("liveness_inactivity_seconds must be positive")
	}
	return nil
}
