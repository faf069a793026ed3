package checkpoint

import (
	"context"

	"github.com/pkg/errors"
	"go.docrelay.dev/core/protocol"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is a Store of checkpoint documents within a collection of the
// source cluster itself. Documents have the shape:
//
//	{
//	  dbWatched:         "db1",
//	  collectionWatched: "coll1",   // Omitted if db_level.
//	  db_level:          false,
//	  currentState:      true,
//	  lastProcessed:     { ... },   // Resume token document. Absent if unset.
//	  fence:             3
//	}
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = &MongoStore{} // MongoStore is-a Store.

// NewMongoStore returns a MongoStore of the state collection.
func NewMongoStore(coll *mongo.Collection) *MongoStore { return &MongoStore{coll: coll} }

type mongoRecord struct {
	Database      string        `bson:"dbWatched"`
	Collection    string        `bson:"collectionWatched,omitempty"`
	DatabaseLevel bool          `bson:"db_level"`
	Current       bool          `bson:"currentState"`
	LastProcessed bson.RawValue `bson:"lastProcessed,omitempty"`
	Fence         int64         `bson:"fence"`
}

// Load implements Store. It issues a single find-and-modify which creates the
// document if absent and increments its fence.
func (s *MongoStore) Load(ctx context.Context, target protocol.WatchTarget) (protocol.Record, error) {
	if err := target.Validate(); err != nil {
		return protocol.Record{}, err
	}
	var filter = targetFilter(target)
	filter = append(filter, bson.E{Key: "currentState", Value: true})

	var doc mongoRecord
	var err = s.coll.FindOneAndUpdate(ctx, filter,
		bson.D{{Key: "$inc", Value: bson.D{{Key: "fence", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)

	if err != nil {
		return protocol.Record{}, errors.WithMessagef(err, "loading checkpoint of %s", target)
	}
	return doc.toRecord(), nil
}

// Save implements Store.
func (s *MongoStore) Save(ctx context.Context, rec protocol.Record) error {
	var filter = targetFilter(rec.Target)
	filter = append(filter, bson.E{Key: "fence", Value: rec.Fence})

	var update bson.D
	if rec.LastProcessed.IsZero() {
		update = bson.D{{Key: "$unset", Value: bson.D{{Key: "lastProcessed", Value: ""}}}}
	} else {
		update = bson.D{{Key: "$set", Value: bson.D{{Key: "lastProcessed", Value: tokenValue(rec.LastProcessed)}}}}
	}

	var res, err = s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return errors.WithMessagef(err, "saving checkpoint of %s", rec.Target)
	} else if res.MatchedCount == 0 {
		return ErrFenced
	}
	return nil
}

// List implements Store.
func (s *MongoStore) List(ctx context.Context) ([]protocol.Record, error) {
	var cur, err = s.coll.Find(ctx, bson.D{{Key: "currentState", Value: true}})
	if err != nil {
		return nil, errors.WithMessage(err, "listing checkpoints")
	}
	var docs []mongoRecord
	if err = cur.All(ctx, &docs); err != nil {
		return nil, errors.WithMessage(err, "decoding checkpoints")
	}

	var out = make([]protocol.Record, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toRecord())
	}
	sortRecords(out)
	return out, nil
}

func targetFilter(target protocol.WatchTarget) bson.D {
	if target.DatabaseLevel {
		return bson.D{
			{Key: "dbWatched", Value: target.Database},
			{Key: "db_level", Value: true},
		}
	}
	return bson.D{
		{Key: "dbWatched", Value: target.Database},
		{Key: "collectionWatched", Value: target.Collection},
		{Key: "db_level", Value: false},
	}
}

// tokenValue stores a Token which is itself a BSON document (as resume tokens
// of the mongo source are) as an embedded document, so that the checkpoint
// remains directly resubmittable as a resumeAfter argument. Other Tokens are
// stored as generic binary.
func tokenValue(t protocol.Token) interface{} {
	if err := bson.Raw(t).Validate(); err == nil {
		return bson.Raw(t)
	}
	return primitive.Binary{Data: []byte(t)}
}

func (doc mongoRecord) toRecord() protocol.Record {
	var rec = protocol.Record{
		Target: protocol.WatchTarget{
			Database:      doc.Database,
			Collection:    doc.Collection,
			DatabaseLevel: doc.DatabaseLevel,
		},
		Current: doc.Current,
		Fence:   doc.Fence,
	}
	switch doc.LastProcessed.Type {
	case bson.TypeEmbeddedDocument:
		rec.LastProcessed = append(protocol.Token(nil), doc.LastProcessed.Value...)
	case bson.TypeBinary:
		var _, data = doc.LastProcessed.Binary()
		rec.LastProcessed = append(protocol.Token(nil), data...)
	}
	return rec
}
