package notifications

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"doorkeeper/internal/identity"
)

const titlePrefix = "Doorkeeper"

// Message is a rendered alert.
type Message struct {
	Title    string
	Body     string
	Tags     []string
	Priority string
	Name     string
	Access   identity.AccessLevel
}

var titleCaser = cases.Title(language.English)

// BuildMessage renders the alert for a sighting. Admin and family members are
// announced as entering, friends as waiting at the door, and everyone else as
// an unknown person.
func BuildMessage(name string, access identity.AccessLevel) Message {
	name = strings.TrimSpace(name)
	switch {
	case name != "" && (access == identity.AccessAdmin || access == identity.AccessFamily):
		return Message{
			Title:  fmt.Sprintf("%s - %s Arrival", titlePrefix, titleCaser.String(string(access))),
			Body:   fmt.Sprintf("%s is entering the building", name),
			Tags:   []string{"doorkeeper", string(access), "entering"},
			Name:   name,
			Access: access,
		}
	case name != "" && access == identity.AccessFriend:
		return Message{
			Title:  fmt.Sprintf("%s - %s at the Door", titlePrefix, titleCaser.String(string(access))),
			Body:   fmt.Sprintf("%s is at the door", name),
			Tags:   []string{"doorkeeper", string(access), "door"},
			Name:   name,
			Access: access,
		}
	default:
		return Message{
			Title:    fmt.Sprintf("%s - Unknown Visitor", titlePrefix),
			Body:     "An unknown person is attempting to enter the building",
			Tags:     []string{"doorkeeper", "unknown", "alert"},
			Priority: "high",
			Name:     name,
			Access:   access,
		}
	}
}

// TestMessage is sent by the test-notify command.
func TestMessage() Message {
	return Message{
		Title:    titlePrefix + " - Test",
		Body:     "Notification system test",
		Tags:     []string{"doorkeeper", "test"},
		Priority: "low",
	}
}
