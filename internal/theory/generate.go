package theory

import "cbtengine/internal/draw"

const (
	fixedSubParts    = 2
	fixedNestedParts = 2
	maxRandomSub     = 3
	maxRandomNested  = 4
)

// Generate builds an outline from settings and binds questions drawn from
// pool without replacement. Slots created after the pool runs dry stay unbound.
// Nested parts are only produced when lettered sub-parts are enabled.
func Generate(settings Settings, pool []string, src draw.Source) []Slot {
	if src == nil {
		src = draw.Default
	}
	questions := draw.NewPool(src, pool)
	next := func() string {
		id, _ := questions.Pop()
		return id
	}

	structure := make([]Slot, 0, max(settings.TotalMainQuestions, 0))
	for i := 0; i < settings.TotalMainQuestions; i++ {
		main := Slot{
			ID:         mainLabel(i),
			Label:      mainLabel(i),
			Level:      LevelMain,
			QuestionID: next(),
		}

		if settings.IncludeAlphabet {
			subCount := fixedSubParts
			if settings.RandomizeComplexity {
				subCount = src.IntN(maxRandomSub) + 1
			}
			for j := 0; j < subCount; j++ {
				sub := Slot{
					ID:         main.ID + subLabel(j),
					Label:      subLabel(j),
					Level:      LevelSub,
					QuestionID: next(),
				}

				if settings.IncludeRoman {
					nestedCount := fixedNestedParts
					if settings.RandomizeComplexity {
						nestedCount = src.IntN(maxRandomNested) + 1
					}
					for k := 0; k < nestedCount; k++ {
						sub.Children = append(sub.Children, Slot{
							ID:         sub.ID + nestedLabel(k),
							Label:      nestedLabel(k),
							Level:      LevelNested,
							QuestionID: next(),
						})
					}
				}
				main.Children = append(main.Children, sub)
			}
		}
		structure = append(structure, main)
	}
	return structure
}
