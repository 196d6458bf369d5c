package stress

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/llxisdsh/nbmap"
)

// ScenarioResult is the outcome of RunAlphabetScenario.
type ScenarioResult struct {
	Iterations int
	Final      map[string]int
	Growths    uint32
}

// RunAlphabetScenario stores a:1 and b:2 in a map presized for 4, then
// stores c:3 through z:26 from one goroutine while the caller's
// goroutine iterates repeatedly. Every iteration must be duplicate-free
// and a subset of the final 26 keys, and the final map must hold all 26.
func RunAlphabetScenario(logger hclog.Logger) (*ScenarioResult, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := nbmap.NewMap[string, int](nbmap.WithPresize(4), nbmap.WithLogger(logger))
	m.Store("a", 1)
	m.Store("b", 2)

	want := make(map[string]int, 26)
	for c := 'a'; c <= 'z'; c++ {
		want[string(c)] = int(c-'a') + 1
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for c := 'c'; c <= 'z'; c++ {
			m.Store(string(c), int(c-'a')+1)
		}
	}()

	res := &ScenarioResult{}
	for running := true; running; res.Iterations++ {
		select {
		case <-done:
			running = false
		default:
		}
		seen := make(map[string]struct{}, 26)
		for k, v := range m.All() {
			if _, dup := seen[k]; dup {
				return nil, fmt.Errorf("%w: iteration %d reported %s twice", ErrViolation, res.Iterations, k)
			}
			seen[k] = struct{}{}
			if w, ok := want[k]; !ok || w != v {
				return nil, fmt.Errorf("%w: iteration %d reported %s:%d", ErrViolation, res.Iterations, k, v)
			}
		}
	}

	res.Final = m.ToMap()
	if len(res.Final) != len(want) {
		return nil, fmt.Errorf("%w: final map has %d keys, want %d", ErrViolation, len(res.Final), len(want))
	}
	for k, v := range want {
		if res.Final[k] != v {
			return nil, fmt.Errorf("%w: final %s is %d, want %d", ErrViolation, k, res.Final[k], v)
		}
	}
	res.Growths = m.Stats().TotalGrowths
	logger.Debug("scenario finished", "iterations", res.Iterations, "growths", res.Growths)
	return res, nil
}
