// Package allocator decides which requests competing for the same
// (date, time) slot get a court, and which court each one gets.
package allocator

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/pistabot/pistabot/internal/types"
)

// Assignment pairs a confirmed request with the court it will attempt.
type Assignment struct {
	Request *types.Request
	Court   int
}

// Plan is the allocation outcome for one (date, time) group.
type Plan struct {
	SlotKey   string
	Confirmed []Assignment
	Waitlist  []*types.Request
}

// Build allocates courts to the given requests, all competing for the
// same slot. Requests are ordered by tier then queue age; the first
// len(courts) get a court from their preference list, falling back to the
// lowest-numbered free court. Requests that cannot be placed join the
// waitlist in priority order.
func Build(requests []*types.Request, courts []int) Plan {
	plan := Plan{}
	if len(requests) == 0 {
		return plan
	}
	plan.SlotKey = requests[0].SlotKey()

	ordered := make([]*types.Request, len(requests))
	copy(ordered, requests)
	sortByPriority(ordered)

	cut := len(ordered)
	if len(courts) < cut {
		cut = len(courts)
	}
	candidates := ordered[:cut]
	plan.Waitlist = append(plan.Waitlist, ordered[cut:]...)

	taken := make(map[int]bool, len(courts))
	for _, r := range candidates {
		court, ok := pickCourt(r.CourtPreferences, courts, taken)
		if !ok {
			// All courts taken; this request drops to the waitlist.
			plan.Waitlist = append(plan.Waitlist, r)
			continue
		}
		taken[court] = true
		plan.Confirmed = append(plan.Confirmed, Assignment{Request: r, Court: court})
	}

	log.Debug().
		Str("slot", plan.SlotKey).
		Int("requests", len(requests)).
		Int("confirmed", len(plan.Confirmed)).
		Int("waitlisted", len(plan.Waitlist)).
		Msg("Allocation plan built")
	return plan
}

// Rebuild folds late arrivals into an existing plan by re-running the
// ordering over the union. A vip or admin request arriving between
// allocation and dispatch can bump the lowest-ranked confirmed request of
// a lower tier back to the waitlist.
func Rebuild(plan Plan, late []*types.Request, courts []int) Plan {
	if len(late) == 0 {
		return plan
	}
	all := make([]*types.Request, 0, len(plan.Confirmed)+len(plan.Waitlist)+len(late))
	for _, a := range plan.Confirmed {
		all = append(all, a.Request)
	}
	all = append(all, plan.Waitlist...)
	all = append(all, late...)
	return Build(all, courts)
}

// Fallbacks returns the courts a request could still try, preference
// order first, then remaining free courts ascending. Courts in taken are
// excluded.
func Fallbacks(r *types.Request, courts []int, taken map[int]bool) []int {
	var out []int
	seen := make(map[int]bool, len(courts))
	for _, n := range r.CourtPreferences {
		if courtListed(courts, n) && !taken[n] && !seen[n] {
			out = append(out, n)
			seen[n] = true
		}
	}
	rest := make([]int, 0, len(courts))
	for _, n := range courts {
		if !taken[n] && !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Ints(rest)
	return append(out, rest...)
}

// sortByPriority orders by tier rank ascending, then creation time, then
// id so equal requests allocate deterministically.
func sortByPriority(requests []*types.Request) {
	sort.SliceStable(requests, func(i, j int) bool {
		ri, rj := requests[i], requests[j]
		if ri.Tier.Rank() != rj.Tier.Rank() {
			return ri.Tier.Rank() < rj.Tier.Rank()
		}
		if !ri.CreatedAt.Equal(rj.CreatedAt) {
			return ri.CreatedAt.Before(rj.CreatedAt)
		}
		return ri.ID < rj.ID
	})
}

// pickCourt returns the first free court in the preference list, or the
// lowest-numbered free court when every preference is taken.
func pickCourt(preferences, courts []int, taken map[int]bool) (int, bool) {
	for _, n := range preferences {
		if courtListed(courts, n) && !taken[n] {
			return n, true
		}
	}
	best, found := 0, false
	for _, n := range courts {
		if taken[n] {
			continue
		}
		if !found || n < best {
			best, found = n, true
		}
	}
	return best, found
}

func courtListed(courts []int, n int) bool {
	for _, c := range courts {
		if c == n {
			return true
		}
	}
	return false
}
