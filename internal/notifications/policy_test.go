package notifications_test

import (
	"testing"
	"time"

	"doorkeeper/internal/identity"
	"doorkeeper/internal/notifications"
	"doorkeeper/internal/testsupport"
)

func TestPolicyCooldownPerLabel(t *testing.T) {
	clock := testsupport.NewClock()
	policy := notifications.NewPolicy(notifications.WithPolicyClock(clock.Now))
	alice := notifications.Sighting{Recognized: true, Live: true, Label: "Alice", Access: identity.AccessFamily}

	if _, send := policy.Evaluate(alice); !send {
		t.Fatal("first sighting should send")
	}
	clock.Advance(299 * time.Second)
	if _, send := policy.Evaluate(alice); send {
		t.Fatal("sighting inside cooldown should be suppressed")
	}

	bob := notifications.Sighting{Recognized: true, Live: true, Label: "Bob", Access: identity.AccessFriend}
	msg, send := policy.Evaluate(bob)
	if !send || msg.Body != "Bob is at the door" {
		t.Fatalf("other identities keep their own cooldown, got send=%v msg=%q", send, msg.Body)
	}

	clock.Advance(time.Second)
	msg, send = policy.Evaluate(alice)
	if !send {
		t.Fatal("sighting at cooldown expiry should send")
	}
	if msg.Body != "Alice is entering the building" {
		t.Fatalf("unexpected body %q", msg.Body)
	}
}

func TestPolicyNotLiveNeverSends(t *testing.T) {
	clock := testsupport.NewClock()
	policy := notifications.NewPolicy(notifications.WithPolicyClock(clock.Now))
	for range 5 {
		if _, send := policy.Evaluate(notifications.Sighting{Recognized: true, Label: "Alice", Access: identity.AccessAdmin}); send {
			t.Fatal("recognized but not live should not alert")
		}
		clock.Advance(time.Minute)
	}
}

func TestPolicyUnknownStreak(t *testing.T) {
	clock := testsupport.NewClock()
	policy := notifications.NewPolicy(notifications.WithPolicyClock(clock.Now))
	stranger := notifications.Sighting{}

	sent := 0
	// One frame per second for 25 seconds.
	for range 26 {
		if msg, send := policy.Evaluate(stranger); send {
			sent++
			if msg.Body != "An unknown person is attempting to enter the building" {
				t.Fatalf("unexpected stranger body %q", msg.Body)
			}
		}
		clock.Advance(time.Second)
	}
	if sent != 2 {
		t.Fatalf("expected the stranger alert to repeat every ~10s (2 sends), got %d", sent)
	}
}

func TestPolicyRecognizedClearsUnknownStreak(t *testing.T) {
	clock := testsupport.NewClock()
	policy := notifications.NewPolicy(notifications.WithPolicyClock(clock.Now))

	policy.Evaluate(notifications.Sighting{})
	clock.Advance(8 * time.Second)
	policy.Evaluate(notifications.Sighting{Recognized: true, Label: "Alice"})
	clock.Advance(time.Second)
	policy.Evaluate(notifications.Sighting{})
	clock.Advance(8 * time.Second)
	if _, send := policy.Evaluate(notifications.Sighting{}); send {
		t.Fatal("streak should restart after a recognized sighting")
	}
	clock.Advance(3 * time.Second)
	if _, send := policy.Evaluate(notifications.Sighting{}); !send {
		t.Fatal("streak longer than the window should alert")
	}
}

func TestPolicySetWindows(t *testing.T) {
	clock := testsupport.NewClock()
	policy := notifications.NewPolicy(notifications.WithPolicyClock(clock.Now))
	policy.SetWindows(30*time.Second, 2*time.Second)
	alice := notifications.Sighting{Recognized: true, Live: true, Label: "Alice", Access: identity.AccessAdmin}

	policy.Evaluate(alice)
	clock.Advance(30 * time.Second)
	if _, send := policy.Evaluate(alice); !send {
		t.Fatal("expected send after the shortened cooldown")
	}
}
