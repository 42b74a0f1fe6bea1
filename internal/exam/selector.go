package exam

import "cbtengine/internal/draw"

// SelectSessionQuestions draws the session's question order from the exam
// pool: a uniform permutation, truncated to displayCount when
// 0 < displayCount < len(pool).
func SelectSessionQuestions(pool []string, displayCount int, src draw.Source) []string {
	return draw.Take(src, pool, displayCount)
}
