package governance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

// VersionEvent is published on every lineage change.
type VersionEvent struct {
	Op      string               `json:"op"`
	Version versionctl.Version   `json:"version"`
	GC      *versionctl.GCResult `json:"gc,omitempty"`
	Drift   *drift.State         `json:"drift,omitempty"`
}

// Observe feeds one prediction outcome into the drift detector. Level
// changes are published. Opening a Critical episode counts against the
// current phase once; flapping across the threshold inside the episode does
// not, until the next rebaseline. The retrain request itself is delivered on
// the detector's channel.
func (c *Core) Observe(ctx context.Context, correct bool) drift.State {
	st := c.detector.Observe(correct)

	c.metrics.SetDrift(int(st.Level), st.Rolling)
	if st.LevelChanged {
		c.publish(ctx, TopicDrift, st)
	}
	if st.CriticalEntry {
		detail := fmt.Sprintf("rolling accuracy %.3f against baseline %.3f", st.Rolling, st.Baseline)
		c.recordIncident(ctx, SeverityError, IncidentCriticalDrift, detail)
		c.deploy.RecordCriticalDrift(ctx, detail)
	}
	return st
}

// Drift returns the detector state.
func (c *Core) Drift() drift.State { return c.detector.Status() }

func (c *Core) consumeRetrainRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.detector.Requests():
			if _, err := c.HandleRetrain(ctx, req); err != nil {
				c.logger.Warn(ctx, "retrain request not satisfied", zap.Uint64("request.seq", req.Seq), zap.Error(err))
			}
		}
	}
}

// HandleRetrain runs the retrain path for one request: fine-tune, commit the
// artifact as the new HEAD, then rebaseline drift to its measured accuracy.
// Any failure raises the RetrainFailed health flag and leaves drift Critical.
func (c *Core) HandleRetrain(ctx context.Context, req drift.Request) (versionctl.Version, error) {
	ctx, span := c.tracer.Start(ctx, "governance.retrain")
	defer span.End()

	if c.retrainer == nil {
		return versionctl.Version{}, c.retrainFailed(ctx, req, fmt.Errorf("%w: no retrainer configured", ErrRetrainFailed))
	}
	res, err := c.retrainer.Retrain(ctx, req)
	if err != nil {
		return versionctl.Version{}, c.retrainFailed(ctx, req, fmt.Errorf("%w: %w", ErrRetrainFailed, err))
	}
	v, err := c.versions.Commit(ctx, res.Artifact, res.Metadata)
	if err != nil {
		return versionctl.Version{}, c.retrainFailed(ctx, req, fmt.Errorf("%w: committing artifact: %w", ErrRetrainFailed, err))
	}

	var st *drift.State
	if acc := res.Metadata.Accuracy; acc > 0 {
		if err := c.detector.Rebaseline(acc); err != nil {
			c.logger.Warn(ctx, "retrained accuracy not usable as drift baseline", zap.Error(err))
		} else {
			s := c.detector.Status()
			st = &s
		}
	}

	c.mu.Lock()
	c.health.RetrainFailed = false
	c.health.LastRetrainError = ""
	c.health.LastRetrainAt = c.now()
	c.mu.Unlock()

	c.logger.Info(ctx, "retrain committed",
		zap.Uint64("request.seq", req.Seq),
		zap.Uint64("version", uint64(v.ID)),
		zap.Float64("accuracy", res.Metadata.Accuracy))
	c.publish(ctx, TopicVersion, VersionEvent{Op: "retrain", Version: v, Drift: st})
	c.refreshGauges()
	if c.cfg.KeepVersions > 0 {
		if _, err := c.GC(ctx, c.cfg.KeepVersions); err != nil {
			c.logger.Warn(ctx, "post-retrain gc failed", zap.Error(err))
		}
	}
	return v, nil
}

func (c *Core) retrainFailed(ctx context.Context, req drift.Request, err error) error {
	c.mu.Lock()
	c.health.RetrainFailed = true
	c.health.LastRetrainError = err.Error()
	c.health.LastRetrainAt = c.now()
	c.mu.Unlock()

	c.logger.Error(ctx, "retrain failed, drift stays critical", zap.Uint64("request.seq", req.Seq), zap.Error(err))
	c.recordIncident(ctx, SeverityError, IncidentRetrainFailed, err.Error())
	return err
}

// RetryRetrain re-issues a retrain request while drift is still Critical.
func (c *Core) RetryRetrain(ctx context.Context) bool {
	ok := c.detector.Retry()
	c.logger.Info(ctx, "retrain retry requested", zap.Bool("issued", ok))
	return ok
}

// CommitVersion commits an artifact produced outside the retrain path.
func (c *Core) CommitVersion(ctx context.Context, artifact []byte, md versionctl.Metadata) (versionctl.Version, error) {
	v, err := c.versions.Commit(ctx, artifact, md)
	if err != nil {
		return versionctl.Version{}, err
	}
	c.publish(ctx, TopicVersion, VersionEvent{Op: "commit", Version: v})
	c.refreshGauges()
	return v, nil
}

// RollbackVersion moves HEAD to id and rebaselines drift to that version's
// accuracy. A missing or collected id leaves HEAD unchanged.
func (c *Core) RollbackVersion(ctx context.Context, id versionctl.ID) (versionctl.Version, error) {
	_, v, err := c.versions.Rollback(ctx, id)
	if err != nil {
		return versionctl.Version{}, err
	}
	var st *drift.State
	if acc := v.Metadata.Accuracy; acc > 0 {
		if err := c.detector.Rebaseline(acc); err == nil {
			s := c.detector.Status()
			st = &s
		}
	}
	c.publish(ctx, TopicVersion, VersionEvent{Op: "rollback", Version: v, Drift: st})
	c.refreshGauges()
	return v, nil
}

// TagVersion labels a live version; tagged versions survive GC.
func (c *Core) TagVersion(ctx context.Context, id versionctl.ID, label string) error {
	if err := c.versions.Tag(ctx, id, label); err != nil {
		return err
	}
	v, _ := c.versions.Get(id)
	c.publish(ctx, TopicVersion, VersionEvent{Op: "tag", Version: v})
	return nil
}

// UntagVersion removes a label.
func (c *Core) UntagVersion(ctx context.Context, label string) error {
	return c.versions.Untag(ctx, label)
}

// GC keeps the newest keepLastN versions plus every protected one.
func (c *Core) GC(ctx context.Context, keepLastN int) (versionctl.GCResult, error) {
	res, err := c.versions.GC(ctx, keepLastN)
	return c.afterGC(ctx, res, err)
}

// GCBefore collects unprotected versions below watermark.
func (c *Core) GCBefore(ctx context.Context, watermark versionctl.ID) (versionctl.GCResult, error) {
	res, err := c.versions.GCBefore(ctx, watermark)
	return c.afterGC(ctx, res, err)
}

func (c *Core) afterGC(ctx context.Context, res versionctl.GCResult, err error) (versionctl.GCResult, error) {
	if err != nil {
		return res, err
	}
	if len(res.Removed) > 0 {
		head, _ := c.versions.Head()
		c.publish(ctx, TopicVersion, VersionEvent{Op: "gc", Version: head, GC: &res})
		c.refreshGauges()
	}
	return res, nil
}

// Versions returns the full lineage, ascending, including tombstones.
func (c *Core) Versions() []versionctl.Version { return c.versions.List() }

// VersionHistory returns the lineage from version 1 to HEAD.
func (c *Core) VersionHistory() []versionctl.Version { return c.versions.History() }

// Version returns one version.
func (c *Core) Version(id versionctl.ID) (versionctl.Version, error) { return c.versions.Get(id) }

// Head returns the current HEAD.
func (c *Core) Head() (versionctl.Version, error) { return c.versions.Head() }

// DiffVersions compares two versions.
func (c *Core) DiffVersions(a, b versionctl.ID) (versionctl.Delta, error) {
	return c.versions.Diff(a, b)
}
