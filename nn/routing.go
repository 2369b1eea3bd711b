package nn

import (
	"gonum.org/v1/gonum/blas/blas32"
)

// routingGroup is one independent routing problem: every input capsule
// instance proposes a vote for every output candidate.
type routingGroup struct {
	votes      []float32 // [inputs][candidates][dim]
	inputs     int
	candidates int
	dim        int
}

func (g routingGroup) vote(i, j int) []float32 {
	off := (i*g.candidates + j) * g.dim
	return g.votes[off : off+g.dim]
}

// routingState is threaded from one iteration to the next.
type routingState struct {
	logits   []float32 // [inputs][candidates]
	estimate []float32 // [candidates][dim], squashed
}

func newRoutingState(g routingGroup) routingState {
	return routingState{
		logits:   make([]float32, g.inputs*g.candidates),
		estimate: make([]float32, g.candidates*g.dim),
	}
}

// routeByAgreement runs iters routing iterations over g. coupling receives
// the coefficients of each iteration ([inputs][candidates]); after the call
// it holds the final ones. observe, if non-nil, is called after every
// iteration with the iteration index.
func routeByAgreement(g routingGroup, iters int, coupling []float32, observe func(iter int)) routingState {
	state := newRoutingState(g)
	for it := 0; it < iters; it++ {
		state = routingStep(g, state, coupling, it == iters-1)
		if observe != nil {
			observe(it)
		}
	}
	return state
}

// routingStep performs one iteration: normalize logits, combine votes,
// squash, and, unless this is the final iteration, reward agreement.
func routingStep(g routingGroup, state routingState, coupling []float32, last bool) routingState {
	softmaxGrid(coupling, state.logits, g.inputs, g.candidates)

	est := state.estimate
	for i := range est {
		est[i] = 0
	}
	for i := 0; i < g.inputs; i++ {
		for j := 0; j < g.candidates; j++ {
			c := coupling[i*g.candidates+j]
			if c == 0 {
				continue
			}
			blas32.Axpy(c, blasVector(g.vote(i, j)), blasVector(est[j*g.dim:(j+1)*g.dim]))
		}
	}
	squashAll(est, g.dim)

	if !last {
		for i := 0; i < g.inputs; i++ {
			for j := 0; j < g.candidates; j++ {
				state.logits[i*g.candidates+j] += dot(g.vote(i, j), est[j*g.dim:(j+1)*g.dim])
			}
		}
	}
	return state
}

// RoutingEvent describes the coupling coefficients of one routing group
// after one iteration.
type RoutingEvent struct {
	Layer      string
	Group      int // batch element × output cell for conv capsules, batch element for class capsules
	Iteration  int
	Inputs     int
	Candidates int
	Coupling   []float32 // [inputs][candidates]; only valid during the call
}

// RoutingObserver receives routing events. Groups are routed concurrently,
// so implementations must be safe for concurrent use.
type RoutingObserver interface {
	ObserveRouting(event RoutingEvent)
}

// RoutingObserverFunc adapts a function to RoutingObserver.
type RoutingObserverFunc func(event RoutingEvent)

// ObserveRouting calls f(event).
func (f RoutingObserverFunc) ObserveRouting(event RoutingEvent) { f(event) }

func routingObserveFunc(obs RoutingObserver, layer string, group int, g routingGroup, coupling []float32) func(int) {
	if obs == nil {
		return nil
	}
	return func(iter int) {
		obs.ObserveRouting(RoutingEvent{
			Layer:      layer,
			Group:      group,
			Iteration:  iter,
			Inputs:     g.inputs,
			Candidates: g.candidates,
			Coupling:   coupling,
		})
	}
}
