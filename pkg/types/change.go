package types

import "time"

// ChangeKind classifies a filesystem change event.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// FileChange is one raw change event emitted by a change detector.
type FileChange struct {
	Path      string // Relative to project root
	Kind      ChangeKind
	Timestamp time.Time
}

// IsDeletion reports whether the change removes the file from the index.
func (fc FileChange) IsDeletion() bool {
	return fc.Kind == ChangeDeleted
}
