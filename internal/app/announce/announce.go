// Package announce composes and publishes the spoken number calls. Delivery
// is fire-and-forget over plain NATS: the caller never learns about, and is
// never failed by, a lost announcement.
package announce

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tambola-live/engine/internal/platform/natsutil"
	"github.com/tambola-live/engine/internal/sharding"
)

// nicknames are the traditional caller phrases. Numbers without an entry
// are announced with digits only.
var nicknames = map[int]string{
	1:  "Kelly's eye",
	2:  "one little duck",
	7:  "lucky seven",
	8:  "garden gate",
	11: "legs eleven",
	13: "unlucky for some",
	22: "two little ducks",
	33: "all the threes",
	44: "droopy drawers",
	55: "all the fives",
	66: "clickety click",
	77: "sunset strip",
	88: "two fat ladies",
	90: "top of the shop",
}

// CallText renders the announcement for a number, digits spoken separately
// in the traditional style: "eight and eight, two fat ladies, 88".
func CallText(n int) string {
	if n < 1 || n > 90 {
		return ""
	}
	text := digitsOf(n)
	if nickname, ok := nicknames[n]; ok {
		text += ", " + nickname
	}
	return fmt.Sprintf("%s, %d", text, n)
}

var digitWords = []string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

func digitsOf(n int) string {
	if n < 10 {
		return "on its own, " + digitWords[n]
	}
	return digitWords[n/10] + " and " + digitWords[n%10]
}

// Message is the wire form of one announcement.
type Message struct {
	HostID string    `json:"host_id"`
	Number int       `json:"number"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Announcer publishes announcements for the processor. A nil Announcer is
// usable and does nothing.
type Announcer struct {
	Publisher natsutil.Publisher
	Now       func() time.Time
}

func New(publisher natsutil.Publisher) *Announcer {
	return &Announcer{
		Publisher: publisher,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Announce publishes the call for a number. Out-of-range numbers are
// ignored; publish errors are logged and dropped.
func (a *Announcer) Announce(hostID string, n int) {
	if a == nil || a.Publisher == nil {
		return
	}
	text := CallText(n)
	if text == "" {
		return
	}
	msg := Message{HostID: hostID, Number: n, Text: text, SentAt: a.Now()}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("encode announcement failed host=%s: %v", hostID, err)
		return
	}
	if err := a.Publisher.Publish(sharding.AnnounceSubject(hostID), payload); err != nil {
		log.Printf("publish announcement failed host=%s: %v", hostID, err)
	}
}
