package sharding

import (
	"fmt"
	"testing"
)

func TestGetShardIDIsDeterministicAndBounded(t *testing.T) {
	for i := 0; i < 200; i++ {
		hostID := fmt.Sprintf("host-%d", i)
		shard := GetShardID(hostID)
		if shard < 0 || shard >= ShardCount {
			t.Fatalf("GetShardID(%q) = %d, outside [0,%d)", hostID, shard, ShardCount)
		}
		if again := GetShardID(hostID); again != shard {
			t.Fatalf("GetShardID(%q) not stable: %d then %d", hostID, shard, again)
		}
	}
}

func TestSubjectFormats(t *testing.T) {
	hostID := "host-42"
	shard := GetShardID(hostID)

	if got, want := ResultSubject(hostID), fmt.Sprintf("game.result.%d.host.host-42", shard); got != want {
		t.Errorf("ResultSubject = %q, want %q", got, want)
	}
	if got, want := ErrorSubject(hostID), fmt.Sprintf("game.error.%d.host.host-42", shard); got != want {
		t.Errorf("ErrorSubject = %q, want %q", got, want)
	}
	if got, want := StateSubject(hostID), fmt.Sprintf("game.state.%d.host.host-42", shard); got != want {
		t.Errorf("StateSubject = %q, want %q", got, want)
	}
	if got, want := AnnounceSubject(hostID), "game.announce.host.host-42"; got != want {
		t.Errorf("AnnounceSubject = %q, want %q", got, want)
	}
}

func TestHostWildcardsMatchShardedSubjects(t *testing.T) {
	if got, want := HostResultWildcard("host-42"), "game.result.*.host.host-42"; got != want {
		t.Errorf("HostResultWildcard = %q, want %q", got, want)
	}
	if got, want := HostStateWildcard("host-42"), "game.state.*.host.host-42"; got != want {
		t.Errorf("HostStateWildcard = %q, want %q", got, want)
	}
}
