package storage

// Store abstracts durable artifact storage for merged recordings,
// question audio and proctoring snapshots. Put returns the reference
// recorded in handoff state.
type Store interface {
	Put(key, contentType string, data []byte) (string, error)
}
