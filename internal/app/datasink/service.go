// Package datasink archives the command result stream into Postgres: every
// terminal result is recorded, and completed games are copied into history.
package datasink

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tambola-live/engine/internal/contracts"
)

var ErrInvalidResultPayload = errors.New("invalid command result payload")

type Repository interface {
	InsertResult(ctx context.Context, result contracts.CommandResult, resultSeq uint64) error
}

type Service struct {
	Repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{Repository: repository}
}

func (s *Service) Handle(ctx context.Context, payload []byte, resultSeq uint64) error {
	var result contracts.CommandResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return ErrInvalidResultPayload
	}
	if result.Command.ID == "" || result.Command.HostID == "" {
		return ErrInvalidResultPayload
	}
	return s.Repository.InsertResult(ctx, result, resultSeq)
}
