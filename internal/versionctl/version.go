// Package versionctl is a git-like store for the small trained artifacts the
// agents depend on. Versions form a parent-linked lineage rooted at version
// 1; HEAD always names a live version once anything has been committed.
package versionctl

import (
	"errors"
	"sort"
	"time"
)

// ID identifies a version. IDs are assigned monotonically from 1.
type ID uint64

// Root is the first version ever committed.
const Root ID = 1

var (
	// ErrVersionNotFound is returned for ids that were never committed or
	// whose artifact was garbage collected.
	ErrVersionNotFound = errors.New("version not found")
	// ErrStorageFull is returned when an artifact exceeds the size bound.
	ErrStorageFull = errors.New("artifact exceeds storage bound")
	// ErrEmpty is returned when the store holds no versions yet.
	ErrEmpty = errors.New("no versions committed")
	// ErrTagExists is returned when a label already names another version.
	ErrTagExists = errors.New("tag already exists")
	// ErrTagNotFound is returned when removing an unknown label.
	ErrTagNotFound = errors.New("tag not found")
	// ErrInvalidTag is returned for empty labels.
	ErrInvalidTag = errors.New("tag label must not be empty")
)

// Metadata describes the training run that produced an artifact.
type Metadata struct {
	Examples int           `json:"examples"`
	Duration time.Duration `json:"duration"`
	Loss     float64       `json:"loss"`
	Accuracy float64       `json:"accuracy"`
}

// Version is an immutable committed artifact description. Collected reports
// whether gc dropped its artifact; its metadata stays so lineage walks keep
// working.
type Version struct {
	ID        ID        `json:"id"`
	Parent    ID        `json:"parent,omitempty"`
	Hash      string    `json:"hash"`
	Size      int       `json:"size"`
	Metadata  Metadata  `json:"metadata"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Collected bool      `json:"collected,omitempty"`
}

// HasParent reports whether v has a parent; only the root does not.
func (v Version) HasParent() bool { return v.Parent != 0 }

// Delta is the metadata-level difference b - a.
type Delta struct {
	From           ID            `json:"from"`
	To             ID            `json:"to"`
	Accuracy       float64       `json:"accuracy"`
	Loss           float64       `json:"loss"`
	Size           int           `json:"size"`
	Examples       int           `json:"examples"`
	Duration       time.Duration `json:"duration"`
	SameContent    bool          `json:"same_content"`
	Ancestor       bool          `json:"ancestor"`
	CommonAncestor ID            `json:"common_ancestor,omitempty"`
}

// GCResult reports what a collection removed and kept.
type GCResult struct {
	Removed   []ID `json:"removed"`
	Protected []ID `json:"protected"`
	Freed     int  `json:"freed_bytes"`
}

func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
