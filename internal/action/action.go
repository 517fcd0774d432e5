package action

import (
	"math/rand/v2"
	"sync"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
)

// #region action
// Action is one refinement directive from the fixed catalog.
type Action string

const (
	UseGenerator  Action = "USE_GENERATOR"
	PerturbOutput Action = "PERTURB_OUTPUT"
	Simplify      Action = "SIMPLIFY"
	Expand        Action = "EXPAND"
	Refine        Action = "REFINE"
	Reset         Action = "RESET"
)

// All lists the catalog in enumeration order. Greedy ties resolve toward
// the earlier entry.
var All = []Action{UseGenerator, PerturbOutput, Simplify, Expand, Refine, Reset}

// Generative reports whether the action always asks the generator for a
// fresh artifact. Unseen generative actions start with an optimistic Q-value.
func (a Action) Generative() bool {
	return a == UseGenerator || a == Reset
}

// Valid reports whether a is part of the catalog.
func (a Action) Valid() bool {
	for _, c := range All {
		if a == c {
			return true
		}
	}
	return false
}
// #endregion action

// #region applicable
const (
	simplifyAbove = 0.5
	expandBelow   = 0.7
	resetAfter    = 3
)

// Applicable returns the actions permitted for the artifact at the given
// iteration. USE_GENERATOR is always first so the list is never empty.
func Applicable(a artifact.Artifact, iteration int) []Action {
	actions := []Action{UseGenerator}
	if !a.IsEmpty() {
		actions = append(actions, PerturbOutput, Refine)
		c := a.Complexity()
		if c > simplifyAbove {
			actions = append(actions, Simplify)
		}
		if c < expandBelow {
			actions = append(actions, Expand)
		}
	}
	if iteration > resetAfter {
		actions = append(actions, Reset)
	}
	return actions
}
// #endregion applicable

// #region catalog
// Catalog applies local transformations. Its random source is injectable
// so tests can fix the perturbation.
type Catalog struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCatalog returns a catalog drawing from rng. A nil rng uses a
// randomly seeded source.
func NewCatalog(rng *rand.Rand) *Catalog {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Catalog{rng: rng}
}

// Apply performs the action locally when it can. ok=false means the caller
// must invoke the generator with the current artifact as context; this is
// always the case for USE_GENERATOR, RESET, REFINE and EXPAND.
func (c *Catalog) Apply(a artifact.Artifact, act Action) (artifact.Artifact, bool) {
	switch act {
	case PerturbOutput:
		c.mu.Lock()
		defer c.mu.Unlock()
		return a.Perturb(c.rng), true
	case Simplify:
		return a.Truncate(0.8), true
	default:
		return nil, false
	}
}
// #endregion catalog
