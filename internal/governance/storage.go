package governance

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/journal"
	"github.com/fyrsmithlabs/govcore/internal/orchestrator"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

const (
	kindDecision   = "audit.decision"
	kindTransition = "phase.transition"
)

// Storage holds the journals behind the persisted state: the decision
// audit log, the phase transition history and the version lineage.
type Storage struct {
	Audit    *journal.Journal
	Phases   *journal.Journal
	Versions *journal.Journal

	auditCap int
}

// OpenStorage opens or creates the journals under dir. auditCapacity bounds
// how many decision records are kept on disk.
func OpenStorage(dir string, auditCapacity int, logger *zap.Logger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditCapacity <= 0 {
		auditCapacity = orchestrator.DefaultAuditCapacity
	}
	audit, err := journal.Open(filepath.Join(dir, "audit"), []string{kindDecision},
		journal.WithLogger(logger.Named("audit")))
	if err != nil {
		return nil, fmt.Errorf("opening audit journal: %w", err)
	}
	phases, err := journal.Open(filepath.Join(dir, "phases"), []string{kindTransition},
		journal.WithLogger(logger.Named("phases")))
	if err != nil {
		return nil, fmt.Errorf("opening phase journal: %w", err)
	}
	versions, err := journal.Open(filepath.Join(dir, "versions"), versionctl.JournalKinds(),
		journal.WithLogger(logger.Named("versions")))
	if err != nil {
		return nil, fmt.Errorf("opening version journal: %w", err)
	}
	return &Storage{Audit: audit, Phases: phases, Versions: versions, auditCap: auditCapacity}, nil
}

// Close closes every journal.
func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	for _, j := range []*journal.Journal{s.Audit, s.Phases, s.Versions} {
		if err := j.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) appendDecision(d orchestrator.Decision) error {
	rec, err := s.Audit.Append(kindDecision, d)
	if err != nil {
		return err
	}
	// Keep the on-disk log within twice the ring size.
	if s.Audit.Len() > 2*s.auditCap {
		_, err = s.Audit.Truncate(rec.Seq - uint64(s.auditCap) + 1)
	}
	return err
}

func (s *Storage) appendTransition(t deployment.Transition) error {
	_, err := s.Phases.Append(kindTransition, t)
	return err
}

func (s *Storage) loadDecisions() ([]orchestrator.Decision, error) {
	var out []orchestrator.Decision
	err := s.Audit.Replay(func(r journal.Record) error {
		var d orchestrator.Decision
		if err := r.Decode(&d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func (s *Storage) loadTransitions() ([]deployment.Transition, error) {
	var out []deployment.Transition
	err := s.Phases.Replay(func(r journal.Record) error {
		var t deployment.Transition
		if err := r.Decode(&t); err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}
