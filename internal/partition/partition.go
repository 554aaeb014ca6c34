// Package partition maps file identities onto partitions of the line topic.
//
// Every message of one file carries the same key and therefore lands on the
// same partition, where the broker keeps it in publish order. Per-file order
// and single-owner buffering follow from that alone; nothing coordinates the
// reassembler instances.
//
// The mapping is only stable while the partition count and the
// partition-to-instance assignment stay fixed. Changing either while a file
// is in flight can send the rest of that file to a different instance, which
// leaves two partial buffers that never complete.
package partition

import (
	"hash/fnv"
)

// For returns the partition for key among partitions partitions using FNV-1a.
// It panics if partitions is not positive.
func For(key string, partitions int) int32 {
	if partitions <= 0 {
		panic("partition: partitions must be positive")
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int32(h.Sum32() % uint32(partitions))
}

// Router fixes the partition count of one topic
type Router struct {
	Topic      string
	Partitions int
}

// NewRouter returns a router for topic with the given partition count
func NewRouter(topic string, partitions int) Router {
	return Router{Topic: topic, Partitions: partitions}
}

// PartitionFor returns the partition a file identity routes to
func (r Router) PartitionFor(fileIdentity string) int32 {
	return For(fileIdentity, r.Partitions)
}

// Owns reports whether the instance consuming partition p owns fileIdentity
func (r Router) Owns(p int32, fileIdentity string) bool {
	return r.PartitionFor(fileIdentity) == p
}
