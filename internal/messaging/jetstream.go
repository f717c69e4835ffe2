package messaging

import (
	"errors"

	"github.com/nats-io/nats.go"
)

const (
	resultsStream = "GAME_RESULTS"
	stateStream   = "GAME_STATE"
)

// EnsureStreams creates (or validates) the two streams the engine publishes:
// - game.result.> and game.error.> (terminal command outcomes)
// - game.state.> (state-changed notifications for the read path)
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(resultsStream); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			if _, addErr := js.AddStream(&nats.StreamConfig{
				Name:      resultsStream,
				Subjects:  []string{"game.result.>", "game.error.>"},
				Retention: nats.LimitsPolicy,
				Storage:   nats.FileStorage,
				Replicas:  1,
			}); addErr != nil {
				return addErr
			}
		} else {
			return err
		}
	}

	if _, err := js.StreamInfo(stateStream); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			if _, addErr := js.AddStream(&nats.StreamConfig{
				Name:      stateStream,
				Subjects:  []string{"game.state.>"},
				Retention: nats.LimitsPolicy,
				Storage:   nats.FileStorage,
				Replicas:  1,
			}); addErr != nil {
				return addErr
			}
		} else {
			return err
		}
	}

	return nil
}
