package events

// Kafka Topics
// These constants are the default topic names; deployments may override them in config.
const (
	// TopicFiles carries one trigger per object to split. The message body is the bare file identity.
	TopicFiles = "files"

	// TopicLines is the partitioned topic carrying one LineMessage per line, keyed by file identity
	TopicLines = "queue"

	// TopicDeadLetter is the suggested name for the optional dead-letter topic
	TopicDeadLetter = "linepipe.deadletter"
)

// Kafka header keys set on line messages
const (
	// HeaderContentType selects the codec used for the body
	HeaderContentType = "content-type"

	// HeaderSequenceID identifies one split run of one object
	HeaderSequenceID = "sequence-id"

	// HeaderLineNumber is the 1-based index of the line within its object
	HeaderLineNumber = "line-number"

	// HeaderContentDigest is set on the terminal message only: "blake3:<hex>" of the joined content
	HeaderContentDigest = "content-digest"

	// HeaderEventType marks dead-letter records
	HeaderEventType = "event_type"
)
