package recommend

import (
	"context"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// StableMatcher pairs users so that no two users would both rather be with
// each other than with their assigned partners.
//
// Every user ranks every other mutually eligible user of the pool by their
// own Score, ties broken by id; there are no fixed sides, so any two users
// may end up paired. Proposals follow Irving's stable roommates procedure:
// a deferred acceptance round where every user both proposes and holds
// offers, then rotation elimination until each list has at most one entry.
//
// Some pools admit no stable pairing at all (odd preference cycles). For
// those the matcher falls back to a greedy pairing by combined score, and
// BlockingPairs reports the pairs that make it unstable.
type StableMatcher struct {
	scorer Scorer
}

func NewStableMatcher(s Scorer) *StableMatcher {
	return &StableMatcher{scorer: s}
}

type prefTable struct {
	ids []uint64
	// ranked[u] lists mutually acceptable partners of u, most preferred first.
	ranked map[uint64][]uint64
	// rank[u][v] is the position of v in ranked[u].
	rank map[uint64]map[uint64]int
	// score[u][v] is u's score for v.
	score map[uint64]map[uint64]float64
}

func (t *prefTable) acceptable(u, v uint64) bool {
	_, ok := t.rank[u][v]
	return ok
}

// FindMostCompatiblePairs returns the pairing ordered by (User1, User2).
// Users without an acceptable partner, and one user of an odd pool, stay
// unmatched.
func (m *StableMatcher) FindMostCompatiblePairs(ctx context.Context, users []Profile, rc Context) ([]Pair, error) {
	t, err := m.buildTable(ctx, users, rc)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return []Pair{}, nil
	}

	r := newRoommates(t)
	if err := r.propose(ctx); err != nil {
		return nil, err
	}
	stable, err := r.eliminateRotations(ctx)
	if err != nil {
		return nil, err
	}
	if !stable {
		return greedyPairs(t), nil
	}
	return r.pairs(), nil
}

// BlockingPairs lists pairs of users who are not matched together but would
// both rather be with each other than with their assigned partner. Every
// unordered pair of the pool is checked. An empty result means pairs is
// stable for users.
func (m *StableMatcher) BlockingPairs(ctx context.Context, users []Profile, pairs []Pair, rc Context) ([]Pair, error) {
	t, err := m.buildTable(ctx, users, rc)
	if err != nil || t == nil {
		return nil, err
	}

	partner := make(map[uint64]uint64, len(pairs)*2)
	for _, p := range pairs {
		partner[p.User1] = p.User2
		partner[p.User2] = p.User1
	}
	prefers := func(u, v uint64) bool {
		rv, ok := t.rank[u][v]
		if !ok {
			return false
		}
		cur, matched := partner[u]
		if !matched {
			return true
		}
		rcur, ok := t.rank[u][cur]
		return !ok || rv < rcur
	}

	var blocking []Pair
	for i, a := range t.ids {
		for _, b := range t.ids[i+1:] {
			if partner[a] == b {
				continue
			}
			if prefers(a, b) && prefers(b, a) {
				blocking = append(blocking, NewPair(a, b))
			}
		}
	}
	sortPairs(blocking)
	return blocking, nil
}

func (m *StableMatcher) buildTable(ctx context.Context, users []Profile, rc Context) (*prefTable, error) {
	byID := make(map[uint64]Profile, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	if len(byID) < 2 {
		return nil, nil
	}
	all := make([]Profile, 0, len(byID))
	for _, u := range byID {
		all = append(all, u)
	}
	slices.SortFunc(all, func(a, b Profile) int { return cmpID(a.ID, b.ID) })

	scores := make([]map[uint64]float64, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, u := range all {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = m.scoreOthers(u, all, rc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t := &prefTable{
		ids:    make([]uint64, len(all)),
		ranked: make(map[uint64][]uint64, len(all)),
		rank:   make(map[uint64]map[uint64]int, len(all)),
		score:  make(map[uint64]map[uint64]float64, len(all)),
	}
	for i, u := range all {
		t.ids[i] = u.ID
		t.score[u.ID] = scores[i]
	}
	for _, u := range t.ids {
		cands := make([]Candidate, 0, len(t.score[u]))
		for v, s := range t.score[u] {
			if _, ok := t.score[v][u]; ok {
				cands = append(cands, Candidate{Profile: Profile{ID: v}, Score: s})
			}
		}
		RankCandidates(cands)
		order := make([]uint64, len(cands))
		pos := make(map[uint64]int, len(cands))
		for i, c := range cands {
			order[i] = c.ID()
			pos[c.ID()] = i
		}
		t.ranked[u] = order
		t.rank[u] = pos
	}
	return t, nil
}

// scoreOthers returns u's score for every user u finds acceptable.
func (m *StableMatcher) scoreOthers(u Profile, all []Profile, rc Context) map[uint64]float64 {
	out := make(map[uint64]float64, len(all))
	for _, o := range all {
		if o.ID == u.ID {
			continue
		}
		res, err := m.scorer.Score(u, u.Preferences, o, rc)
		if err != nil {
			continue // filtered or unscorable: not acceptable
		}
		out[o.ID] = res.Value
	}
	return out
}

// roommates holds the shrinking preference lists of one run.
type roommates struct {
	t     *prefTable
	alive map[uint64]map[uint64]bool
	// holder[y] is the proposer whose offer y currently holds.
	holder map[uint64]uint64
}

func newRoommates(t *prefTable) *roommates {
	r := &roommates{
		t:      t,
		alive:  make(map[uint64]map[uint64]bool, len(t.ids)),
		holder: make(map[uint64]uint64, len(t.ids)),
	}
	for _, u := range t.ids {
		set := make(map[uint64]bool, len(t.ranked[u]))
		for _, v := range t.ranked[u] {
			set[v] = true
		}
		r.alive[u] = set
	}
	return r
}

func (r *roommates) remove(a, b uint64) {
	delete(r.alive[a], b)
	delete(r.alive[b], a)
}

func (r *roommates) size(u uint64) int { return len(r.alive[u]) }

// nth returns the n-th remaining entry (0 based) of u's list.
func (r *roommates) nth(u uint64, n int) (uint64, bool) {
	for _, v := range r.t.ranked[u] {
		if !r.alive[u][v] {
			continue
		}
		if n == 0 {
			return v, true
		}
		n--
	}
	return 0, false
}

func (r *roommates) last(u uint64) (uint64, bool) {
	list := r.t.ranked[u]
	for i := len(list) - 1; i >= 0; i-- {
		if r.alive[u][list[i]] {
			return list[i], true
		}
	}
	return 0, false
}

// truncateAfter removes every entry of y's list ranked below x.
func (r *roommates) truncateAfter(y, x uint64) {
	list := r.t.ranked[y]
	for _, z := range list[r.t.rank[y][x]+1:] {
		if r.alive[y][z] {
			r.remove(y, z)
		}
	}
}

// propose runs the first phase. Each free user proposes to the head of their
// list; the receiver keeps the offer and drops everyone it ranks lower, which
// frees the offer it held before.
func (r *roommates) propose(ctx context.Context) error {
	free := slices.Clone(r.t.ids)
	for len(free) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		x := free[0]
		free = free[1:]

		y, ok := r.nth(x, 0)
		if !ok {
			continue // list exhausted, stays unmatched
		}
		prev, held := r.holder[y]
		r.holder[y] = x
		r.truncateAfter(y, x)
		if held && prev != x {
			free = append(free, prev)
		}
	}
	return nil
}

// eliminateRotations runs the second phase. It reports false when a list
// empties, which means the pool has no stable pairing.
func (r *roommates) eliminateRotations(ctx context.Context) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		start, found := uint64(0), false
		for _, u := range r.t.ids {
			if r.size(u) >= 2 {
				start, found = u, true
				break
			}
		}
		if !found {
			return true, nil
		}

		cycle := r.rotation(start)
		if cycle == nil {
			return false, nil
		}
		matched := make([]uint64, 0, len(r.t.ids))
		for _, u := range r.t.ids {
			if r.size(u) > 0 {
				matched = append(matched, u)
			}
		}

		seconds := make([]uint64, len(cycle))
		for i, x := range cycle {
			seconds[i], _ = r.nth(x, 1)
		}
		for i, x := range cycle {
			r.truncateAfter(seconds[i], x)
		}

		for _, u := range matched {
			if r.size(u) == 0 {
				return false, nil
			}
		}
	}
}

// rotation walks x -> last(second(x)) from start until a user repeats and
// returns the repeating cycle.
func (r *roommates) rotation(start uint64) []uint64 {
	seen := map[uint64]int{start: 0}
	seq := []uint64{start}
	x := start
	for {
		q, ok := r.nth(x, 1)
		if !ok {
			return nil
		}
		next, ok := r.last(q)
		if !ok {
			return nil
		}
		if i, dup := seen[next]; dup {
			return seq[i:]
		}
		seen[next] = len(seq)
		seq = append(seq, next)
		x = next
	}
}

func (r *roommates) pairs() []Pair {
	out := make([]Pair, 0, len(r.t.ids)/2)
	for _, u := range r.t.ids {
		if r.size(u) != 1 {
			continue
		}
		v, _ := r.nth(u, 0)
		if u < v {
			out = append(out, NewPair(u, v))
		}
	}
	sortPairs(out)
	return out
}

// greedyPairs pairs users by descending combined score, ties by pair ids.
func greedyPairs(t *prefTable) []Pair {
	type edge struct {
		p     Pair
		score float64
	}
	var edges []edge
	for i, a := range t.ids {
		for _, b := range t.ids[i+1:] {
			if t.acceptable(a, b) && t.acceptable(b, a) {
				edges = append(edges, edge{p: NewPair(a, b), score: t.score[a][b] + t.score[b][a]})
			}
		}
	}
	slices.SortFunc(edges, func(x, y edge) int {
		switch {
		case x.score > y.score:
			return -1
		case x.score < y.score:
			return 1
		}
		return comparePairs(x.p, y.p)
	})

	used := make(map[uint64]bool, len(t.ids))
	out := []Pair{}
	for _, e := range edges {
		if used[e.p.User1] || used[e.p.User2] {
			continue
		}
		used[e.p.User1], used[e.p.User2] = true, true
		out = append(out, e.p)
	}
	sortPairs(out)
	return out
}

func cmpID(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func comparePairs(x, y Pair) int {
	if c := cmpID(x.User1, y.User1); c != 0 {
		return c
	}
	return cmpID(x.User2, y.User2)
}

func sortPairs(ps []Pair) {
	slices.SortFunc(ps, comparePairs)
}
