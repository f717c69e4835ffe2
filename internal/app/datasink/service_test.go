package datasink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tambola-live/engine/internal/contracts"
)

type fakeRepository struct {
	inserted []contracts.CommandResult
	seqs     []uint64
	err      error
}

func (f *fakeRepository) InsertResult(_ context.Context, result contracts.CommandResult, resultSeq uint64) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, result)
	f.seqs = append(f.seqs, resultSeq)
	return nil
}

func TestHandleInsertsDecodedResult(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)

	result := contracts.CommandResult{
		Command: contracts.Command{
			ID:          "cmd-1",
			HostID:      "host-1",
			Kind:        contracts.KindCallNumber,
			SubmittedAt: time.Now().UTC(),
		},
		Success:     true,
		Attempts:    1,
		CompletedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}

	if err := svc.Handle(context.Background(), payload, 42); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("inserted %d results, want 1", len(repo.inserted))
	}
	if repo.inserted[0].Command.ID != "cmd-1" || repo.seqs[0] != 42 {
		t.Errorf("inserted = %+v seq = %d", repo.inserted[0], repo.seqs[0])
	}
}

func TestHandleRejectsInvalidPayloads(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)

	cases := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("{broken")},
		{"missing command id", []byte(`{"command":{"host_id":"host-1"},"success":true}`)},
		{"missing host id", []byte(`{"command":{"command_id":"cmd-1"},"success":true}`)},
	}
	for _, tc := range cases {
		if err := svc.Handle(context.Background(), tc.payload, 1); !errors.Is(err, ErrInvalidResultPayload) {
			t.Errorf("%s: err = %v, want ErrInvalidResultPayload", tc.name, err)
		}
	}
	if len(repo.inserted) != 0 {
		t.Errorf("inserted %d results, want 0", len(repo.inserted))
	}
}

func TestHandlePropagatesRepositoryError(t *testing.T) {
	wantErr := errors.New("connection reset")
	svc := NewService(&fakeRepository{err: wantErr})

	payload, _ := json.Marshal(contracts.CommandResult{
		Command: contracts.Command{ID: "cmd-1", HostID: "host-1", Kind: contracts.KindCompleteGame},
	})
	if err := svc.Handle(context.Background(), payload, 7); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
