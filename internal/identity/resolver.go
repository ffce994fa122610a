// Package identity resolves scanned tags to members or walk-ins.
//
// Members are looked up first; the walk-in namespace for the scan's calendar
// day is only consulted when no member holds the tag.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gymdesk/internal/apperr"
	"gymdesk/internal/model"
	"gymdesk/internal/storage"
)

// Resolver looks up tag holders. It never writes.
type Resolver struct {
	registry storage.Registry
	loc      *time.Location
}

// NewResolver creates a resolver; loc defines the gym's calendar day.
func NewResolver(registry storage.Registry, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{registry: registry, loc: loc}
}

// Resolve returns the identity holding tagID on day.
//
// Errors are *apperr.Error values: Invalid for an empty tag, Denied for a
// member whose status is not active, NotFound when nobody holds the tag and
// Storage when a lookup fails.
func (r *Resolver) Resolve(ctx context.Context, tagID, day string) (model.Identity, error) {
	tag := model.NormalizeTag(tagID)
	if tag == "" {
		return model.Identity{}, apperr.Invalid("tag id required")
	}

	member, err := r.registry.MemberByTag(ctx, tag)
	if err != nil {
		return model.Identity{}, apperr.Storage("member lookup failed", err)
	}
	if member != nil {
		if member.Status != model.MemberActive {
			return model.Identity{}, apperr.Denied("membership is %s", member.Status)
		}
		return model.MemberIdentity(*member), nil
	}

	walkIn, err := r.registry.WalkInByTag(ctx, tag, day)
	if err != nil {
		return model.Identity{}, apperr.Storage("walk-in lookup failed", err)
	}
	if walkIn != nil {
		return model.WalkInIdentity(*walkIn), nil
	}

	return model.Identity{}, apperr.NotFound("tag %s is not registered", tag)
}

// ResolveAt is Resolve with the day taken from now in the gym timezone.
func (r *Resolver) ResolveAt(ctx context.Context, tagID string, now time.Time) (model.Identity, error) {
	return r.Resolve(ctx, tagID, model.DayOf(now, r.loc))
}

// RegisterWalkIn creates a walk-in for the day of now. A tag may not belong
// to a member or to another walk-in on the same day.
func (r *Resolver) RegisterWalkIn(ctx context.Context, name, tagID string, now time.Time) (model.WalkIn, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.WalkIn{}, apperr.Invalid("name required")
	}
	day := model.DayOf(now, r.loc)
	w := model.WalkIn{Name: name, Day: day, CreatedAt: now.UTC()}

	if tag := model.NormalizeTag(tagID); tag != "" {
		member, err := r.registry.MemberByTag(ctx, tag)
		if err != nil {
			return model.WalkIn{}, apperr.Storage("member lookup failed", err)
		}
		if member != nil {
			return model.WalkIn{}, apperr.Invalid("tag %s belongs to a member", tag)
		}
		existing, err := r.registry.WalkInByTag(ctx, tag, day)
		if err != nil {
			return model.WalkIn{}, apperr.Storage("walk-in lookup failed", err)
		}
		if existing != nil {
			return model.WalkIn{}, apperr.Invalid("tag %s already used by a walk-in today", tag)
		}
		w.TagID = &tag
	}

	if err := r.registry.CreateWalkIn(ctx, &w); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return model.WalkIn{}, apperr.Invalid("tag already used by a walk-in today")
		}
		return model.WalkIn{}, apperr.Storage("create walk-in failed", err)
	}
	slog.Info("walk-in registered", "walkin_id", w.ID, "day", day)
	return w, nil
}
