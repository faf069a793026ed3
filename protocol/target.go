package protocol

// WatchTarget identifies what is being tailed: either a single collection of
// a database, or every collection of a database.
type WatchTarget struct {
	Database      string `json:"database" yaml:"database"`
	Collection    string `json:"collection,omitempty" yaml:"collection,omitempty"`
	DatabaseLevel bool   `json:"databaseLevel" yaml:"databaseLevel"`
}

// CanaryCollection is written to by the bootstrap canary of database-level
// WatchTargets, which have no collection of their own.
const CanaryCollection = "canary-collection"

// Validate returns an error if the WatchTarget is not well-formed. Exactly one
// of Collection or DatabaseLevel must be set.
func (t WatchTarget) Validate() error {
	if err := ValidateName(t.Database, 1, maxNameLength); err != nil {
		return ExtendContext(err, "Database")
	} else if t.DatabaseLevel && t.Collection != "" {
		return NewValidationError("expected Collection to be empty when DatabaseLevel is set (%s)", t.Collection)
	} else if !t.DatabaseLevel && t.Collection == "" {
		return NewValidationError("expected Collection or DatabaseLevel to be set")
	} else if t.Collection != "" {
		if err := ValidateName(t.Collection, 1, maxNameLength); err != nil {
			return ExtendContext(err, "Collection")
		}
	}
	return nil
}

// CanaryCollection returns the collection into which the bootstrap canary is
// written for this WatchTarget.
func (t WatchTarget) CanaryCollection() string {
	if t.DatabaseLevel {
		return CanaryCollection
	}
	return t.Collection
}

// String renders the WatchTarget as "database.collection", or "database.*"
// for database-level targets.
func (t WatchTarget) String() string {
	if t.DatabaseLevel {
		return t.Database + ".*"
	}
	return t.Database + "." + t.Collection
}
