package protocol

import "encoding/base64"

// Token is an opaque change-stream position. Its structure is owned by the
// source database: docrelay stores and resubmits Tokens, but never parses them.
type Token []byte

// IsZero returns true if the Token is absent.
func (t Token) IsZero() bool { return len(t) == 0 }

// String renders the Token for logging.
func (t Token) String() string {
	if t.IsZero() {
		return "<none>"
	}
	return base64.RawStdEncoding.EncodeToString(t)
}

// Record is the durable checkpoint of a WatchTarget: the position of the last
// successfully processed change event. A Record with an empty LastProcessed
// has no position, and a capture run of its WatchTarget must bootstrap.
type Record struct {
	Target WatchTarget `json:"target" yaml:"target"`
	// Current marks the Record as the active checkpoint of its Target.
	Current bool `json:"isCurrent" yaml:"isCurrent"`
	// LastProcessed is the position of the last processed event, if any.
	LastProcessed Token `json:"lastProcessed,omitempty" yaml:"lastProcessed,omitempty"`
	// Fence is incremented by each load of the Record. A Record may be saved
	// only while its Fence is unchanged from the loaded value, which detects
	// overlapping runs of the same Target.
	Fence int64 `json:"fence" yaml:"fence"`
}

// Validate returns an error if the Record is not well-formed.
func (r Record) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return ExtendContext(err, "Target")
	} else if r.Fence < 0 {
		return NewValidationError("invalid Fence (%d; expected >= 0)", r.Fence)
	}
	return nil
}
