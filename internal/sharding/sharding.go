package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of partitions for host-keyed subjects.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a host.
func GetShardID(hostID string) int {
	checksum := crc32.ChecksumIEEE([]byte(hostID))
	return int(checksum % ShardCount)
}

// ResultSubject is where a host's terminal command results are published.
// Format: game.result.{shard_id}.host.{host_id}
func ResultSubject(hostID string) string {
	return fmt.Sprintf("game.result.%d.host.%s", GetShardID(hostID), hostID)
}

// ErrorSubject is where a host's terminal command errors are published.
func ErrorSubject(hostID string) string {
	return fmt.Sprintf("game.error.%d.host.%s", GetShardID(hostID), hostID)
}

// StateSubject carries state-changed notifications for a host's game record.
func StateSubject(hostID string) string {
	return fmt.Sprintf("game.state.%d.host.%s", GetShardID(hostID), hostID)
}

// AnnounceSubject carries fire-and-forget number announcements for a host.
// Announcements are plain NATS, not JetStream: a missed call is not replayed.
func AnnounceSubject(hostID string) string {
	return fmt.Sprintf("game.announce.host.%s", hostID)
}

// HostResultWildcard matches a single host's results across shards.
func HostResultWildcard(hostID string) string {
	return "game.result.*.host." + hostID
}

// HostStateWildcard matches a single host's state notifications.
func HostStateWildcard(hostID string) string {
	return "game.state.*.host." + hostID
}
