package versionctl

import (
	"fmt"

	"github.com/fyrsmithlabs/govcore/internal/journal"
)

// Journal record kinds written by the store.
const (
	kindCommit   = "version.commit"
	kindRollback = "version.rollback"
	kindTag      = "version.tag"
	kindUntag    = "version.untag"
	kindGC       = "version.gc"
)

// JournalKinds lists the record kinds a journal backing a Store must accept.
func JournalKinds() []string {
	return []string{kindCommit, kindRollback, kindTag, kindUntag, kindGC}
}

// commitRecord carries metadata only; the artifact is a separate file.
type commitRecord struct {
	Version Version `json:"version"`
}

type rollbackRecord struct {
	To ID `json:"to"`
}

type tagRecord struct {
	ID    ID     `json:"id,omitempty"`
	Label string `json:"label"`
}

type gcRecord struct {
	Removed []ID `json:"removed"`
}

// record must be called with mu held, before the in-memory mutation.
func (s *Store) record(kind string, payload any) error {
	if s.journal == nil {
		return nil
	}
	if _, err := s.journal.Append(kind, payload); err != nil {
		return fmt.Errorf("persisting %s: %w", kind, err)
	}
	return nil
}

// apply replays one journal record.
func (s *Store) apply(r journal.Record) error {
	switch r.Kind {
	case kindCommit:
		var c commitRecord
		if err := r.Decode(&c); err != nil {
			return err
		}
		if c.Version.ID != s.next {
			return fmt.Errorf("commit record for version %d, expected %d", c.Version.ID, s.next)
		}
		c.Version.Tags = nil
		c.Version.Collected = false
		s.applyCommit(c.Version)
	case kindRollback:
		var rb rollbackRecord
		if err := r.Decode(&rb); err != nil {
			return err
		}
		if e, ok := s.versions[rb.To]; !ok || e.Collected {
			return fmt.Errorf("rollback record to missing version %d", rb.To)
		}
		s.head = rb.To
	case kindTag:
		var t tagRecord
		if err := r.Decode(&t); err != nil {
			return err
		}
		if _, ok := s.versions[t.ID]; !ok {
			return fmt.Errorf("tag record for missing version %d", t.ID)
		}
		s.applyTag(t.ID, t.Label)
	case kindUntag:
		var t tagRecord
		if err := r.Decode(&t); err != nil {
			return err
		}
		s.applyUntag(t.Label)
	case kindGC:
		var g gcRecord
		if err := r.Decode(&g); err != nil {
			return err
		}
		s.applyGC(g.Removed)
	default:
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
	return nil
}

func (s *Store) applyCommit(v Version) {
	s.versions[v.ID] = &entry{Version: v}
	s.head = v.ID
	s.next = v.ID + 1
	s.bytes += v.Size
}

func (s *Store) applyTag(id ID, label string) {
	s.tags[label] = id
	e := s.versions[id]
	e.Tags = append(e.Tags, label)
}

func (s *Store) applyUntag(label string) {
	id, ok := s.tags[label]
	if !ok {
		return
	}
	delete(s.tags, label)
	e := s.versions[id]
	kept := e.Tags[:0]
	for _, t := range e.Tags {
		if t != label {
			kept = append(kept, t)
		}
	}
	e.Tags = kept
}

func (s *Store) applyGC(ids []ID) {
	for _, id := range ids {
		e, ok := s.versions[id]
		if !ok || e.Collected {
			continue
		}
		s.bytes -= e.Size
		e.Collected = true
	}
}
