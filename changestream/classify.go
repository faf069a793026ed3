package changestream

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.docrelay.dev/core/protocol"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// rawEvent is the subset of a change record which Classify decodes.
// https://www.mongodb.com/docs/manual/reference/change-events/
type rawEvent struct {
	OperationType string              `bson:"operationType"`
	Namespace     protocol.Namespace  `bson:"ns"`
	DocumentKey   bson.Raw            `bson:"documentKey"`
	FullDocument  bson.Raw            `bson:"fullDocument"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
}

// Classify a raw change record. The event's position is its "_id", which is
// carried as an opaque Token.
func Classify(raw bson.Raw) (protocol.ChangeEvent, error) {
	var doc rawEvent
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return protocol.ChangeEvent{}, errors.WithMessage(err, "decoding change record")
	}

	var ev = protocol.ChangeEvent{
		Kind:        classifyKind(doc.OperationType),
		RawKind:     doc.OperationType,
		Namespace:   doc.Namespace,
		ClusterTime: time.Unix(int64(doc.ClusterTime.T), 0).UTC(),
	}
	if id, err := raw.LookupErr("_id"); err == nil {
		if pos, ok := id.DocumentOK(); ok {
			ev.Position = append(protocol.Token(nil), pos...)
		}
	}
	if len(doc.FullDocument) != 0 {
		ev.FullDocument = append(bson.Raw(nil), doc.FullDocument...)
	}
	if len(doc.DocumentKey) != 0 {
		if id, err := doc.DocumentKey.LookupErr("_id"); err == nil {
			ev.DocumentID = StringifyID(id)
		}
	}

	if ev.HasPayload() && ev.DocumentID == "" {
		return ev, errors.Errorf("%s event of %s.%s has no document key",
			doc.OperationType, doc.Namespace.Database, doc.Namespace.Collection)
	}
	return ev, nil
}

func classifyKind(op string) protocol.OperationKind {
	switch op {
	case "insert":
		return protocol.OpInsert
	case "update", "replace":
		return protocol.OpUpdate
	case "delete":
		return protocol.OpDelete
	default:
		return protocol.OpOther
	}
}

// StringifyID renders a document identity as a string: ObjectIDs by their
// hex encoding, strings verbatim, numbers in decimal, and other values in
// extended JSON.
func StringifyID(v bson.RawValue) string {
	switch v.Type {
	case bsontype.ObjectID:
		return v.ObjectID().Hex()
	case bsontype.String:
		return v.StringValue()
	case bsontype.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case bsontype.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	case bsontype.Double:
		return strconv.FormatFloat(v.Double(), 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
