// Package protocol defines the data model shared by docrelay components:
// watch targets, checkpoint records, classified change events, staged payload
// pointers, the queue envelope which carries them, and the Result shape
// returned by each entry point.
//
// Resume tokens are represented by Token, an opaque byte string which is
// stored and resubmitted but never interpreted.
package protocol
