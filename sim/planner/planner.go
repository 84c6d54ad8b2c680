// Package planner provides reference placement planners: "none", which
// never acts, and "random", which places every requested microservice on
// a uniformly drawn server whenever capacity allows.
package planner

import (
	"fmt"
	"math/rand"

	"github.com/edge-sim/edge-sim/sim"
)

// ValidPlanners is the set of recognized planner names.
var ValidPlanners = map[string]bool{"none": true, "random": true}

// New returns the planner registered under name, built against view.
// rng is used only by planners that draw.
func New(name string, view sim.View, rng *rand.Rand) (sim.Planner, error) {
	switch name {
	case "none":
		return None{}, nil
	case "random":
		return NewRandom(view, rng), nil
	default:
		return nil, fmt.Errorf("unknown planner %q; valid: none, random", name)
	}
}

// None leaves every placement as it is.
type None struct{}

// GetData implements sim.Planner.
func (None) GetData(int64) error { return nil }

// Solve implements sim.Planner.
func (None) Solve() (sim.Action, error) { return sim.Action{}, nil }
