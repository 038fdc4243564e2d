// Package node tracks scan worker nodes in Redis.
//
// Liveness is corrected lazily: a node stays "online" in the store until some
// caller reads the registry after its heartbeat has gone stale, at which point
// the node is reclassified as timed out and the new state is written back.
// Nothing sweeps the registry in the background, so a node that nobody asks
// about can stay "online" long after its agent died.
package node
