package protocol

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// OperationKind classifies a change event.
type OperationKind string

const (
	OpInsert OperationKind = "insert"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
	// OpOther covers every operation which carries no document payload,
	// such as drop, rename or invalidate.
	OpOther OperationKind = "other"
)

// Namespace of a change event.
type Namespace struct {
	Database   string `json:"db" bson:"db"`
	Collection string `json:"coll" bson:"coll"`
}

// Partition returns the ordering partition of the Namespace, "database-collection".
func (ns Namespace) Partition() string { return ns.Database + "-" + ns.Collection }

// ChangeEvent is a classified change-stream record. It lives only for the
// duration of its processing and is never persisted.
type ChangeEvent struct {
	Kind OperationKind
	// RawKind is the operationType reported by the stream, eg "replace".
	RawKind string
	// Position is the stream position of this event.
	Position Token
	// DocumentID is the stringified identity of the changed document.
	DocumentID string
	Namespace  Namespace
	// FullDocument is present for insert and update events.
	FullDocument bson.Raw
	// ClusterTime of the change, at second precision.
	ClusterTime time.Time
}

// HasPayload returns true if the event carries a payload which must be
// staged and relayed.
func (ev ChangeEvent) HasPayload() bool {
	switch ev.Kind {
	case OpInsert, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}
