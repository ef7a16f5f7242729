// Package docstore provides a path-addressed, schema-less JSON document tree
// backed by Redis. Nodes are read and written whole; continuous change
// subscriptions deliver a full snapshot of a node on every write to it.
package docstore

import (
	"encoding/json"
	"errors"
)

// ErrContention is returned by Update when the optimistic transaction kept
// colliding with concurrent writers and ran out of retries.
var ErrContention = errors.New("docstore: too much write contention")

// UpdateFunc transforms the current value of a node into its next value.
// exists is false when no document is stored at the path; current is nil in
// that case. Returning an error aborts the update without writing.
type UpdateFunc func(current json.RawMessage, exists bool) (json.RawMessage, error)

// Snapshot is one full-node emission on a subscription.
type Snapshot struct {
	Doc    json.RawMessage
	Exists bool
}
