package announce

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCallTextSpeaksDigitsAndNicknames(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{88, "eight and eight, two fat ladies, 88"},
		{5, "on its own, five, 5"},
		{7, "on its own, seven, lucky seven, 7"},
		{42, "four and two, 42"},
		{90, "nine and zero, top of the shop, 90"},
		{0, ""},
		{91, ""},
	}
	for _, tc := range cases {
		if got := CallText(tc.n); got != tc.want {
			t.Errorf("CallText(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

type fakePublisher struct {
	subject string
	payload []byte
	err     error
	calls   int
}

func (f *fakePublisher) Publish(subject string, payload []byte) error {
	f.calls++
	f.subject = subject
	f.payload = payload
	return f.err
}

func TestAnnouncePublishesToHostSubject(t *testing.T) {
	pub := &fakePublisher{}
	sentAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	a := New(pub)
	a.Now = func() time.Time { return sentAt }

	a.Announce("host-1", 88)

	if pub.calls != 1 {
		t.Fatalf("publish calls = %d, want 1", pub.calls)
	}
	if pub.subject != "game.announce.host.host-1" {
		t.Errorf("subject = %q", pub.subject)
	}
	var msg Message
	if err := json.Unmarshal(pub.payload, &msg); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if msg.HostID != "host-1" || msg.Number != 88 || msg.Text != "eight and eight, two fat ladies, 88" {
		t.Errorf("message = %+v", msg)
	}
	if !msg.SentAt.Equal(sentAt) {
		t.Errorf("sent at = %v, want %v", msg.SentAt, sentAt)
	}
}

func TestAnnounceSkipsOutOfRangeAndSurvivesFailures(t *testing.T) {
	pub := &fakePublisher{}
	a := New(pub)
	a.Announce("host-1", 0)
	a.Announce("host-1", 91)
	if pub.calls != 0 {
		t.Fatalf("out-of-range numbers published %d times", pub.calls)
	}

	// Publish failures are logged and dropped.
	pub.err = errors.New("nats down")
	a.Announce("host-1", 5)
	if pub.calls != 1 {
		t.Fatalf("publish calls = %d, want 1", pub.calls)
	}

	var nilAnnouncer *Announcer
	nilAnnouncer.Announce("host-1", 7) // must not panic
}
