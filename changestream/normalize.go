package changestream

import (
	"strconv"

	"github.com/pkg/errors"
	"go.docrelay.dev/core/protocol"
	"go.mongodb.org/mongo-driver/bson"
)

// ReadableTimeLayout of the "timestampReadable" payload field.
const ReadableTimeLayout = "2006-01-02T15:04:05"

// Normalize builds the staged payload of a ChangeEvent having a payload, as
// relaxed extended JSON. Insert and update payloads are the full document,
// with its "_id" replaced by the stringified document ID. Delete payloads,
// having no document, carry only the document ID. All payloads are then
// extended with "operation", "timestamp" (Unix seconds) and
// "timestampReadable" (UTC) fields.
func Normalize(ev protocol.ChangeEvent) ([]byte, error) {
	if !ev.HasPayload() {
		return nil, errors.Errorf("%s events have no payload", ev.RawKind)
	}
	var doc = bson.D{{Key: "_id", Value: ev.DocumentID}}

	if ev.Kind != protocol.OpDelete && len(ev.FullDocument) != 0 {
		var elems, err = ev.FullDocument.Elements()
		if err != nil {
			return nil, errors.WithMessage(err, "reading full document")
		}
		for _, elem := range elems {
			if elem.Key() == "_id" {
				continue
			}
			doc = append(doc, bson.E{Key: elem.Key(), Value: elem.Value()})
		}
	}
	doc = append(doc,
		bson.E{Key: "operation", Value: string(ev.Kind)},
		bson.E{Key: "timestamp", Value: strconv.FormatInt(ev.ClusterTime.Unix(), 10)},
		bson.E{Key: "timestampReadable", Value: ev.ClusterTime.UTC().Format(ReadableTimeLayout)},
	)

	var b, err = bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, errors.WithMessage(err, "encoding payload")
	}
	return b, nil
}
