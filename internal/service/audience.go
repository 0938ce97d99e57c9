package service

import (
	"context"
	"sort"

	"github.com/unclebandit/communitybot-admin/internal/model"
	"github.com/unclebandit/communitybot-admin/internal/repository"
)

// AudienceResolver computes who a broadcast targets: every user with an
// active subscription to any of its interests. Interest active flags are not
// consulted. Nothing is cached; each call reads current subscriptions.
type AudienceResolver struct {
	Repo repository.AudienceRepositoryInterface
}

// Resolve returns distinct user ids, ascending. No interests means nobody.
func (r *AudienceResolver) Resolve(ctx context.Context, interestIDs []int64) ([]int64, error) {
	ids := uniqueIDs(interestIDs)
	if len(ids) == 0 {
		return []int64{}, nil
	}
	return r.Repo.ActiveSubscribers(ctx, ids)
}

// TargetUsers is Resolve with profile names, ordered by name.
func (r *AudienceResolver) TargetUsers(ctx context.Context, interestIDs []int64) ([]model.TargetUser, error) {
	ids := uniqueIDs(interestIDs)
	if len(ids) == 0 {
		return []model.TargetUser{}, nil
	}
	return r.Repo.TargetUsers(ctx, ids)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
