package protocol

import (
	"encoding/json"
	"time"
)

// StagedPointer locates a staged payload by exact object version.
type StagedPointer struct {
	Bucket     string `json:"bucketName"`
	Key        string `json:"s3ObjectKey"`
	Version    string `json:"s3ObjectVersionId"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
	DocumentID string `json:"docId"`
}

// Validate returns an error if the StagedPointer is not well-formed. Database
// and Collection are names observed in the change stream, which may be any
// name the source database accepts, and are only required to be non-empty.
func (p StagedPointer) Validate() error {
	if p.Bucket == "" {
		return NewValidationError("expected Bucket")
	} else if p.Key == "" {
		return NewValidationError("expected Key")
	} else if p.DocumentID == "" {
		return NewValidationError("expected DocumentID")
	} else if p.Database == "" {
		return NewValidationError("expected Database")
	} else if p.Collection == "" {
		return NewValidationError("expected Collection")
	}
	return nil
}

// Index returns the search index to which the pointed-to payload belongs.
func (p StagedPointer) Index() string { return p.Database + "-" + p.Collection }

// DocumentKey of an Envelope.
type DocumentKey struct {
	ID string `json:"_id"`
}

// Envelope is the compact queue message relayed for each staged event. It
// carries operation metadata and a StagedPointer, never the document body.
type Envelope struct {
	OperationType string        `json:"operationType"`
	Position      Token         `json:"_id"`
	Namespace     Namespace     `json:"ns"`
	DocumentKey   DocumentKey   `json:"documentKey"`
	ClusterTime   time.Time     `json:"clusterTime"`
	Pointer       StagedPointer `json:"s3Metadata"`
}

// NewEnvelope builds the Envelope of a ChangeEvent staged at StagedPointer.
func NewEnvelope(ev ChangeEvent, ptr StagedPointer) Envelope {
	return Envelope{
		OperationType: ev.RawKind,
		Position:      ev.Position,
		Namespace:     ev.Namespace,
		DocumentKey:   DocumentKey{ID: ev.DocumentID},
		ClusterTime:   ev.ClusterTime.UTC(),
		Pointer:       ptr,
	}
}

// DeduplicationID of the Envelope, which is its document identity.
func (e Envelope) DeduplicationID() string { return e.DocumentKey.ID }

// GroupID of the Envelope, which orders delivery within its Namespace.
func (e Envelope) GroupID() string { return e.Namespace.Partition() }

// Validate returns an error if the Envelope is not well-formed.
func (e Envelope) Validate() error {
	if e.OperationType == "" {
		return NewValidationError("expected OperationType")
	} else if e.DocumentKey.ID == "" {
		return NewValidationError("expected DocumentKey")
	} else if err := e.Pointer.Validate(); err != nil {
		return ExtendContext(err, "Pointer")
	}
	return nil
}

// MarshalEnvelope encodes the Envelope as a queue message body.
func MarshalEnvelope(e Envelope) (string, error) {
	var b, err = json.Marshal(e)
	return string(b), err
}

// UnmarshalEnvelope decodes and validates a queue message body.
func UnmarshalEnvelope(body string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return Envelope{}, err
	} else if err = e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
