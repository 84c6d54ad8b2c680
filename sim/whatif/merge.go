package whatif

import (
	"sort"

	"github.com/edge-sim/edge-sim/sim"
)

// Merge reconciles a decision planned from start with the live state
// current. Tuples that drifted since launch go back to their start
// server, then the decision's placements are laid over that. Tuples no
// longer deployed (or, for deploys, no longer requested) are dropped, and
// so is every entry that would not change anything.
//
// The result is ordered by tuple. Its feasibility is not checked.
func Merge(start, current []sim.Placement, requested []sim.Tuple, decision sim.Action) sim.Action {
	now := index(current)
	target := make(map[sim.Tuple]sim.ServerID, len(now))
	for _, p := range start {
		if _, ok := now[p.Tuple()]; ok {
			target[p.Tuple()] = p.Server
		}
	}
	for _, p := range decision.Migrate {
		if _, ok := now[p.Tuple()]; ok {
			target[p.Tuple()] = p.Server
		}
	}

	wanted := make(map[sim.Tuple]bool, len(requested))
	for _, t := range requested {
		wanted[t] = true
	}
	var out sim.Action
	dropped := make(map[sim.Tuple]bool)
	for _, t := range decision.Undeploy {
		if _, ok := now[t]; ok && !dropped[t] {
			dropped[t] = true
			out.Undeploy = append(out.Undeploy, t)
		}
	}
	deployed := make(map[sim.Tuple]bool)
	for _, p := range decision.Deploy {
		t := p.Tuple()
		if _, ok := now[t]; ok {
			if !dropped[t] {
				target[t] = p.Server
			}
			continue
		}
		if wanted[t] && !deployed[t] {
			deployed[t] = true
			out.Deploy = append(out.Deploy, p)
		}
	}
	for t, sid := range target {
		if dropped[t] || now[t] == sid {
			continue
		}
		out.Migrate = append(out.Migrate, t.PlaceAt(sid))
	}
	sortPlacements(out.Deploy)
	sortPlacements(out.Migrate)
	sort.Slice(out.Undeploy, func(i, j int) bool { return out.Undeploy[i].Less(out.Undeploy[j]) })
	return out
}

// Diff returns the action that turns placements from into placements to.
func Diff(from, to []sim.Placement) sim.Action {
	before, after := index(from), index(to)
	var out sim.Action
	for _, p := range to {
		was, ok := before[p.Tuple()]
		switch {
		case !ok:
			out.Deploy = append(out.Deploy, p)
		case was != p.Server:
			out.Migrate = append(out.Migrate, p)
		}
	}
	for _, p := range from {
		if _, ok := after[p.Tuple()]; !ok {
			out.Undeploy = append(out.Undeploy, p.Tuple())
		}
	}
	sortPlacements(out.Deploy)
	sortPlacements(out.Migrate)
	sort.Slice(out.Undeploy, func(i, j int) bool { return out.Undeploy[i].Less(out.Undeploy[j]) })
	return out
}

func index(ps []sim.Placement) map[sim.Tuple]sim.ServerID {
	out := make(map[sim.Tuple]sim.ServerID, len(ps))
	for _, p := range ps {
		out[p.Tuple()] = p.Server
	}
	return out
}

func sortPlacements(ps []sim.Placement) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Tuple().Less(ps[j].Tuple()) })
}
