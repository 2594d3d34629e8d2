// Package models defines the locally recorded entities of the collector.
package models

import "time"

// Kind tags an uploadable record type. It is persisted next to local IDs so
// transfer mappings can be restored without knowing the concrete type.
type Kind string

const (
	KindThing Kind = "thing"
	KindVideo Kind = "video"
)

// Kinds lists every uploadable kind in sweep order. Things go first since a
// video cannot be uploaded before its thing has a remote ID.
var Kinds = []Kind{KindThing, KindVideo}

// Thing is an object the participant films.
type Thing struct {
	// ID is assigned by the store on first insert; 0 means not stored yet.
	ID int64
	// RemoteID is set once the server has accepted the thing.
	RemoteID *int64

	LabelParticipant string
	LabelValidated   string

	CreatedAt time.Time
}

// Technique is the single-character filming technique code sent to the server.
type Technique string

const (
	TechniqueTrain Technique = "T"
	TechniqueTest  Technique = "Z"
	TechniquePan   Technique = "P"
)

// Valid reports whether t is one of the known codes.
func (t Technique) Valid() bool {
	switch t {
	case TechniqueTrain, TechniqueTest, TechniquePan:
		return true
	}
	return false
}

// Video is a recording of a Thing.
type Video struct {
	ID       int64
	RemoteID *int64

	// ThingID is the local ID of the parent thing.
	ThingID   int64
	Technique Technique
	// FilePath is the media file inside the managed media directory.
	FilePath string

	CreatedAt time.Time
}

// Participant is the singleton record carrying the upload credential.
type Participant struct {
	// Credential is the value for the Authorization header; empty when not
	// authorised.
	Credential string
	UpdatedAt  time.Time
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
