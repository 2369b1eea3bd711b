package nn

import (
	"math"
	"math/rand"
	"testing"
)

func randomGroup(rng *rand.Rand, inputs, candidates, dim int) routingGroup {
	votes := make([]float32, inputs*candidates*dim)
	for i := range votes {
		votes[i] = float32(rng.NormFloat64() * 0.5)
	}
	return routingGroup{votes: votes, inputs: inputs, candidates: candidates, dim: dim}
}

// TestCouplingSumsToOne verifies the normalization after every iteration
func TestCouplingSumsToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	g := randomGroup(rng, 30, 5, 8)
	coupling := make([]float32, g.inputs*g.candidates)

	seen := 0
	routeByAgreement(g, 4, coupling, func(iter int) {
		if iter != seen {
			t.Errorf("Expected iteration %d, got %d", seen, iter)
		}
		seen++
		for i := 0; i < g.inputs; i++ {
			sum := 0.0
			for _, c := range coupling[i*g.candidates : (i+1)*g.candidates] {
				if c < 0 || c > 1 {
					t.Fatalf("iter %d: coupling %v outside [0,1]", iter, c)
				}
				sum += float64(c)
			}
			if math.Abs(sum-1) > 1e-5 {
				t.Errorf("iter %d input %d: coupling sums to %v", iter, i, sum)
			}
		}
	})
	if seen != 4 {
		t.Errorf("Expected 4 observed iterations, got %d", seen)
	}
}

// TestSingleIterationCouplesUniformly verifies R=1 applies no agreement and
// the estimate is squash(Σ_i vote_ij / candidates)
func TestSingleIterationCouplesUniformly(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	g := randomGroup(rng, 12, 3, 4)
	coupling := make([]float32, g.inputs*g.candidates)
	state := routeByAgreement(g, 1, coupling, nil)

	for _, c := range coupling {
		if math.Abs(float64(c)-1.0/3) > 1e-6 {
			t.Fatalf("Expected uniform coupling 1/3, got %v", c)
		}
	}
	for i, l := range state.logits {
		if l != 0 {
			t.Fatalf("Logit %d updated on the only iteration: %v", i, l)
		}
	}

	for j := 0; j < g.candidates; j++ {
		sum := make([]float32, g.dim)
		for i := 0; i < g.inputs; i++ {
			for d, v := range g.vote(i, j) {
				sum[d] += v / float32(g.candidates)
			}
		}
		Squash(sum, sum)
		got := state.estimate[j*g.dim : (j+1)*g.dim]
		if diff := MaxAbsDiff(got, sum); diff > 1e-5 {
			t.Errorf("Candidate %d differs from the uniformly coupled sum by %v", j, diff)
		}
	}
}

// TestAgreementShiftsCoupling verifies that votes agreeing with consensus
// gain coupling weight
func TestAgreementShiftsCoupling(t *testing.T) {
	// Every input votes (1,0) for candidate 0. For candidate 1, inputs
	// disagree with each other, so its estimate stays small.
	g := routingGroup{inputs: 4, candidates: 2, dim: 2}
	g.votes = []float32{
		1, 0, 1, 0,
		1, 0, -1, 0,
		1, 0, 0, 1,
		1, 0, 0, -1,
	}
	coupling := make([]float32, g.inputs*g.candidates)
	routeByAgreement(g, 3, coupling, nil)

	for i := 0; i < g.inputs; i++ {
		if coupling[i*2] <= 0.5 {
			t.Errorf("Input %d: consensus candidate coupling %v should exceed 0.5", i, coupling[i*2])
		}
	}
}

// TestRoutingDeterministic verifies repeated routing is identical
func TestRoutingDeterministic(t *testing.T) {
	g := randomGroup(rand.New(rand.NewSource(9)), 20, 4, 6)
	c1 := make([]float32, g.inputs*g.candidates)
	c2 := make([]float32, g.inputs*g.candidates)
	s1 := routeByAgreement(g, 3, c1, nil)
	s2 := routeByAgreement(g, 3, c2, nil)

	if MaxAbsDiff(s1.estimate, s2.estimate) != 0 || MaxAbsDiff(c1, c2) != 0 {
		t.Error("Routing is not deterministic")
	}
}

// TestSoftmaxStable verifies large logits do not overflow
func TestSoftmaxStable(t *testing.T) {
	dst := make([]float32, 3)
	softmaxStandard(dst, []float32{1000, 1000, -1000})
	if math.Abs(float64(dst[0])-0.5) > 1e-6 || math.Abs(float64(dst[1])-0.5) > 1e-6 || dst[2] != 0 {
		t.Errorf("Unexpected softmax %v", dst)
	}
	if lse := logSumExp([]float32{1000, 1000}); math.Abs(lse-(1000+math.Ln2)) > 1e-3 {
		t.Errorf("Unexpected logSumExp %v", lse)
	}
}
