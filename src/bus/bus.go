package bus

import "github.com/meshsock/presence/src/types"

// Handler receives announcements delivered by the bus transport.
type Handler func(ann types.Announcement)

// Bus connects worker processes through a publish/subscribe transport.
// Delivery is best-effort, unordered, at-most-once; both provided backends
// deliver published announcements back to the publisher, so echo suppression
// is the consumer's job.
type Bus interface {
	// Subscribe registers interest in an announcement kind. Call for every
	// kind before Start.
	Subscribe(kind types.EventKind)

	// Publish transmits an announcement to all subscribed processes.
	Publish(ann types.Announcement) error

	// OnMessage sets the single dispatch callback for received announcements.
	OnMessage(fn Handler)

	// Start connects to the transport and begins relaying announcements.
	Start() error

	// Stop shuts down the transport connection.
	Stop() error

	// Available reports whether the bus is connected and operational.
	Available() bool
}
