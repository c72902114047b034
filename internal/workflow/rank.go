package workflow

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"scanbot/internal/analysis"
)

// Rank orders successful responses by descending score. Ties are broken by
// ascending symbol, then by input position, so equal inputs always rank the
// same way regardless of the order responses arrived in.
func Rank(succ []analysis.Response) []analysis.Response {
	out := append([]analysis.Response(nil), succ...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Result.Score != b.Result.Score {
			return a.Result.Score > b.Result.Score
		}
		if a.Request.ID != b.Request.ID {
			return a.Request.ID < b.Request.ID
		}
		return a.Request.Seq < b.Request.Seq
	})
	return out
}

// Partition splits responses into successes and failures.
func Partition(resps []analysis.Response) (succ, fail []analysis.Response) {
	for _, r := range resps {
		if r.OK() {
			succ = append(succ, r)
		} else {
			fail = append(fail, r)
		}
	}
	return succ, fail
}

// scoreStats returns mean and sample standard deviation of the scores.
func scoreStats(succ []analysis.Response) (mean, stddev float64) {
	if len(succ) == 0 {
		return 0, 0
	}
	xs := make([]float64, len(succ))
	for i, r := range succ {
		xs[i] = r.Result.Score
	}
	if len(xs) == 1 {
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}
