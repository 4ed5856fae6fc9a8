package generation

import (
	"fmt"

	"github.com/ahrav/go-sweep/internal/domain"
)

// DefaultMaxCombinations caps the size of a sweep when no limit is configured.
const DefaultMaxCombinations = 20

// Combinations returns the cartesian product of ranges as generation tasks.
// Temperature is the outer dimension and top-p the inner one, each in the
// order supplied.
func Combinations(ranges domain.ParameterRanges, model string) []domain.GenerationTask {
	tasks := make([]domain.GenerationTask, 0, len(ranges.Temperatures)*len(ranges.TopP))
	for _, temp := range ranges.Temperatures {
		for _, topP := range ranges.TopP {
			tasks = append(tasks, domain.GenerationTask{
				Temperature: temp,
				TopP:        topP,
				Model:       model,
			})
		}
	}
	return tasks
}

// CheckCombinationLimit rejects a sweep of n tasks when n exceeds limit.
// A non-positive limit falls back to DefaultMaxCombinations.
func CheckCombinationLimit(n, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxCombinations
	}
	if n <= limit {
		return nil
	}
	return domain.NewValidationError("parameterRanges",
		fmt.Sprintf("Too many parameter combinations (%d). Maximum allowed is %d", n, limit))
}
