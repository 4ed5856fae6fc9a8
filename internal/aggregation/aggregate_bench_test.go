package aggregation

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ahrav/go-sweep/internal/domain"
)

// benchResponses builds n responses over a 5x5 parameter grid, one in ten
// failed.
func benchResponses(n int) []domain.Response {
	rng := rand.New(rand.NewSource(7))
	grid := []float64{0.1, 0.3, 0.5, 0.7, 0.9}
	out := make([]domain.Response, n)
	for i := range out {
		temp, topP := grid[i%5], grid[(i/5)%5]
		if i%10 == 9 {
			out[i] = failed(fmt.Sprintf("r%d", i), temp, topP)
			continue
		}
		out[i] = scored(fmt.Sprintf("r%d", i), temp, topP, rng.Float64())
	}
	return out
}

func BenchmarkAggregate(b *testing.B) {
	for _, n := range []int{1, 20, 200} {
		responses := benchResponses(n)
		b.Run(fmt.Sprintf("responses=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				_ = Aggregate(responses)
			}
		})
	}
}

func BenchmarkMedian(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	scores := make([]float64, 200)
	for i := range scores {
		scores[i] = rng.Float64()
	}

	b.ReportAllocs()
	for b.Loop() {
		_ = Median(scores)
	}
}

func BenchmarkBreakdown(b *testing.B) {
	responses := benchResponses(200)
	successes := make([]*domain.Response, 0, len(responses))
	for i := range responses {
		if responses[i].Succeeded() {
			successes = append(successes, &responses[i])
		}
	}

	b.ReportAllocs()
	for b.Loop() {
		_ = Breakdown(successes)
	}
}
