// Package keys 集中定义控制面与节点代理共享的 Redis 键名。
// 键名是协议的一部分，修改会破坏与已部署节点的兼容性。
package keys

import (
	"strings"

	"github.com/Autumn-27/ScopeSentry-sub000/pkg/types"
)

const (
	nodePrefix     = "node:"
	nodeTaskPrefix = "NodeTask:"
	refreshPrefix  = "refresh_config:"
	logPrefix      = "log:"
	taskInfoPrefix = "TaskInfo:"

	// LogChannel is the pub/sub channel nodes publish log lines to.
	LogChannel = "logs"
)

// NodePattern matches every node hash.
const NodePattern = nodePrefix + "*"

// Node returns the hash key of a node.
func Node(name string) string { return nodePrefix + name }

// NodeName extracts the node name from a node hash key.
func NodeName(key string) string { return strings.TrimPrefix(key, nodePrefix) }

// NodeTask returns a node's inbound job queue.
func NodeTask(name string) string { return nodeTaskPrefix + name }

// RefreshConfig returns a node's command queue.
func RefreshConfig(name string) string { return refreshPrefix + name }

// Log returns a node's log buffer.
func Log(name string) string { return logPrefix + name }

// Pending returns the shared pending-target queue of a run.
func Pending(run types.RunID) string { return taskInfoPrefix + string(run) }

// Completed returns the completion counter list of a run.
func Completed(run types.RunID) string { return taskInfoPrefix + "tmp:" + string(run) }

// EndTime returns the end-time marker of a run.
func EndTime(run types.RunID) string { return taskInfoPrefix + "time:" + string(run) }

// Progress returns the per-target progress hash of a run.
func Progress(run types.RunID, target string) string {
	return taskInfoPrefix + "progress:" + string(run) + ":" + target
}

// ProgressPattern matches every progress hash of a run.
func ProgressPattern(run types.RunID) string {
	return taskInfoPrefix + "progress:" + string(run) + ":*"
}

// duplicate-tracking markers written by agents while a run is in flight
var duplicateKinds = []string{"url", "domain", "sensresp", "craw"}

// Duplicates returns the fixed per-run duplicate marker keys.
func Duplicates(run types.RunID) []string {
	out := make([]string, 0, len(duplicateKinds))
	for _, k := range duplicateKinds {
		out = append(out, "duplicates:"+k+":"+string(run))
	}
	return out
}

// DuplicatesPattern matches the per-run duplicate marker hashes.
func DuplicatesPattern(run types.RunID) string {
	return "duplicates:" + string(run) + ":*"
}

// RunArtifacts returns the fixed keys owned by a run. Progress hashes and
// duplicate hashes are matched by pattern and are not included.
func RunArtifacts(run types.RunID) []string {
	out := []string{Completed(run), Pending(run), EndTime(run)}
	return append(out, Duplicates(run)...)
}
