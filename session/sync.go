package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// UserStore is the read-only database boundary of this subsystem. Exactly
// two query shapes exist: the cheap version-marker lookup and the expensive
// full profile fetch. Writes to user records happen elsewhere and must call
// [Cache.Invalidate].
type UserStore interface {
	// Version returns the source version marker (e.g. the row's updated_at
	// rendered as an opaque string) for the subject.
	Version(ctx context.Context, subjectID string) (string, error)
	// Profile returns the full user profile including roles and
	// permissions.
	Profile(ctx context.Context, subjectID string) (*Profile, error)
}

// Profile is the full user row as read from the store.
type Profile struct {
	SubjectID      string
	InternalUserID int64
	Email          string
	Roles          []string
	Permissions    []string
	SourceVersion  string
}

// SyncStats counts reconciliation outcomes. FullReloads staying far below
// VersionChecks is the component working as intended.
type SyncStats struct {
	VersionChecks uint64
	FullReloads   uint64
	Restamps      uint64
}

// Syncer decides, on each cache miss or freshness expiry, whether the
// backing row actually changed before paying for a full reload.
type Syncer struct {
	store UserStore
	log   logr.Logger

	versionChecks atomic.Uint64
	fullReloads   atomic.Uint64
	restamps      atomic.Uint64
}

// NewSyncer creates a [Syncer] over store.
func NewSyncer(store UserStore, log logr.Logger) (*Syncer, error) {
	if store == nil {
		return nil, errors.New("session: user store required")
	}
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Syncer{store: store, log: log.WithName("sync")}, nil
}

// Reconcile produces a current record for subjectID. prior is the stale
// record about to be replaced, or nil on a true miss.
//
// With a prior record whose embedded SourceVersion still matches the store,
// the prior is re-stamped and returned without a full reload (reloaded ==
// false). Otherwise the full profile is fetched and re-materialized.
func (s *Syncer) Reconcile(ctx context.Context, subjectID string, prior *Record) (rec *Record, reloaded bool, err error) {
	if prior != nil {
		s.versionChecks.Add(1)

		version, err := s.store.Version(ctx, subjectID)
		if err != nil {
			return nil, false, err
		}

		if version != "" && version == prior.SourceVersion {
			s.restamps.Add(1)
			fresh := prior.Clone()
			fresh.CachedAt = time.Now()
			return fresh, false, nil
		}
	}

	s.fullReloads.Add(1)

	profile, err := s.store.Profile(ctx, subjectID)
	if err != nil {
		return nil, false, err
	}
	if profile == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrUserNotFound, subjectID)
	}

	return &Record{
		SubjectID:      profile.SubjectID,
		InternalUserID: profile.InternalUserID,
		Email:          profile.Email,
		Roles:          append([]string(nil), profile.Roles...),
		Permissions:    append([]string(nil), profile.Permissions...),
		SourceVersion:  profile.SourceVersion,
		CachedAt:       time.Now(),
	}, true, nil
}

// Stats returns reconciliation counters.
func (s *Syncer) Stats() SyncStats {
	return SyncStats{
		VersionChecks: s.versionChecks.Load(),
		FullReloads:   s.fullReloads.Load(),
		Restamps:      s.restamps.Load(),
	}
}
