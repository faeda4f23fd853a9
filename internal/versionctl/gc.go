package versionctl

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// GC collects every version outside the newest keepLastN that is not
// protected. The protected set is HEAD, the retained window, each tagged
// version with its ancestors, and the root.
func (s *Store) GC(ctx context.Context, keepLastN int) (GCResult, error) {
	if keepLastN < 1 {
		return GCResult{}, errors.New("gc must keep at least one version")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	floor := ID(1)
	if n := ID(keepLastN); s.next > n {
		floor = s.next - n
	}
	return s.collect(ctx, floor)
}

// GCBefore collects every unprotected version whose id is below watermark.
func (s *Store) GCBefore(ctx context.Context, watermark ID) (GCResult, error) {
	if watermark <= Root {
		return GCResult{}, fmt.Errorf("gc watermark must be above %d", Root)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(ctx, watermark)
}

// collect must be called with mu held. The protected set is computed in
// full before anything is removed.
func (s *Store) collect(ctx context.Context, floor ID) (GCResult, error) {
	protected := map[ID]bool{Root: true}
	if s.head != 0 {
		protected[s.head] = true
	}
	for id := floor; id < s.next; id++ {
		protected[id] = true
	}
	for _, tagged := range s.tags {
		for id := range s.ancestors(tagged) {
			protected[id] = true
		}
	}

	var res GCResult
	for id := Root; id < floor; id++ {
		e, ok := s.versions[id]
		if !ok || e.Collected || protected[id] {
			continue
		}
		res.Removed = append(res.Removed, id)
		res.Freed += e.Size
	}
	for id := range protected {
		if e, ok := s.versions[id]; ok && !e.Collected {
			res.Protected = append(res.Protected, id)
		}
	}
	sortIDs(res.Protected)

	if len(res.Removed) == 0 {
		return res, nil
	}
	if err := s.record(kindGC, gcRecord{Removed: res.Removed}); err != nil {
		return GCResult{}, err
	}
	s.applyGC(res.Removed)
	for _, id := range res.Removed {
		if err := s.blobs.drop(id); err != nil {
			// The next NewStore sweeps what is left.
			s.logger.Warn("collected artifact not removed", zap.Uint64("version", uint64(id)), zap.Error(err))
		}
	}

	if s.gcCounter != nil {
		s.gcCounter.Add(ctx, int64(len(res.Removed)))
	}
	s.logger.Info("adapter versions collected",
		zap.Int("removed", len(res.Removed)),
		zap.Int("protected", len(res.Protected)),
		zap.Int("freed_bytes", res.Freed))
	return res, nil
}
