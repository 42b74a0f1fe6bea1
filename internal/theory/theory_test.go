package theory

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pool(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "tq" + string(rune('A'+i))
	}
	return out
}

func TestGenerateFixedShape(t *testing.T) {
	settings := Settings{TotalMainQuestions: 2, IncludeAlphabet: true, IncludeRoman: true}
	got := Generate(settings, pool(20), rand.New(rand.NewPCG(1, 1)))

	require.Len(t, got, 2)
	for i, main := range got {
		assert.Equal(t, LevelMain, main.Level)
		assert.Equal(t, mainLabel(i), main.ID)
		require.Len(t, main.Children, 2)
		for _, sub := range main.Children {
			assert.Equal(t, LevelSub, sub.Level)
			require.Len(t, sub.Children, 2)
			for _, nested := range sub.Children {
				assert.Equal(t, LevelNested, nested.Level)
			}
		}
	}
	assert.Equal(t, "1a", got[0].Children[0].ID)
	assert.Equal(t, "2bii", got[1].Children[1].Children[1].ID)
	assert.Equal(t, "ii", got[1].Children[1].Children[1].Label)
}

func TestGenerateWithoutSubParts(t *testing.T) {
	got := Generate(Settings{TotalMainQuestions: 3, IncludeRoman: true}, pool(5), nil)
	require.Len(t, got, 3)
	for _, main := range got {
		assert.Empty(t, main.Children, "roman parts require lettered sub-parts")
	}
}

func TestGenerateRandomizedBounds(t *testing.T) {
	src := rand.New(rand.NewPCG(9, 9))
	settings := Settings{TotalMainQuestions: 5, IncludeAlphabet: true, IncludeRoman: true, RandomizeComplexity: true}
	for round := 0; round < 50; round++ {
		for _, main := range Generate(settings, nil, src) {
			assert.GreaterOrEqual(t, len(main.Children), 1)
			assert.LessOrEqual(t, len(main.Children), 3)
			for _, sub := range main.Children {
				assert.GreaterOrEqual(t, len(sub.Children), 1)
				assert.LessOrEqual(t, len(sub.Children), 4)
			}
		}
	}
}

func TestGenerateBindsWithoutReplacementAndLeavesRestUnbound(t *testing.T) {
	settings := Settings{TotalMainQuestions: 4, IncludeAlphabet: true}
	// 4 mains with 2 sub-parts each = 12 slots, only 5 questions.
	got := Generate(settings, pool(5), rand.New(rand.NewPCG(2, 3)))

	total, bound := CountSlots(got)
	assert.Equal(t, 12, total)
	assert.Equal(t, 5, bound)

	ids := QuestionIDs(got)
	assert.Len(t, ids, 5)
	assert.ElementsMatch(t, pool(5), ids)
}

func TestGenerateBindsInOutlineOrder(t *testing.T) {
	settings := Settings{TotalMainQuestions: 1, IncludeAlphabet: true}
	got := Generate(settings, pool(2), rand.New(rand.NewPCG(5, 5)))

	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].QuestionID)
	assert.NotEmpty(t, got[0].Children[0].QuestionID)
	assert.Empty(t, got[0].Children[1].QuestionID)
}

func TestRemoveMainRelabels(t *testing.T) {
	structure := Generate(Settings{TotalMainQuestions: 3, IncludeAlphabet: true}, pool(9), nil)
	third := structure[2].QuestionID

	out, err := RemoveMain(structure, 1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].Label)
	assert.Equal(t, "2", out[1].Label)
	assert.Equal(t, "2a", out[1].Children[0].ID)
	assert.Equal(t, third, out[1].QuestionID)

	// input untouched
	assert.Len(t, structure, 3)
	assert.Equal(t, "3", structure[2].ID)
}

func TestSubAndNestedEditing(t *testing.T) {
	structure := AddMain(nil)
	structure = AddMain(structure)
	require.Len(t, structure, 2)

	var err error
	structure, err = AddSubPart(structure, 1)
	require.NoError(t, err)
	structure, err = AddSubPart(structure, 1)
	require.NoError(t, err)
	structure, err = AddNestedPart(structure, 1, 1)
	require.NoError(t, err)
	structure, err = AddNestedPart(structure, 1, 1)
	require.NoError(t, err)

	assert.Equal(t, "2bii", structure[1].Children[1].Children[1].ID)

	structure, err = RemoveNestedPart(structure, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "2bi", structure[1].Children[1].Children[0].ID)

	structure, err = RemoveSubPart(structure, 1, 0)
	require.NoError(t, err)
	require.Len(t, structure[1].Children, 1)
	assert.Equal(t, "2a", structure[1].Children[0].ID)
	assert.Equal(t, "2ai", structure[1].Children[0].Children[0].ID)
}

func TestEditingRejectsBadIndexes(t *testing.T) {
	structure := AddMain(nil)

	_, err := RemoveMain(structure, 3)
	assert.True(t, errors.Is(err, ErrSlotNotFound))
	_, err = AddSubPart(structure, -1)
	assert.True(t, errors.Is(err, ErrSlotNotFound))
	_, err = AddNestedPart(structure, 0, 0)
	assert.True(t, errors.Is(err, ErrSlotNotFound))
	_, err = RemoveNestedPart(structure, 0, 0, 0)
	assert.True(t, errors.Is(err, ErrSlotNotFound))
}

func TestBind(t *testing.T) {
	structure := Generate(Settings{TotalMainQuestions: 2, IncludeAlphabet: true}, nil, nil)

	out, err := Bind(structure, "2b", "q-9")
	require.NoError(t, err)
	assert.Equal(t, "q-9", out[1].Children[1].QuestionID)
	assert.Empty(t, structure[1].Children[1].QuestionID)
	assert.Equal(t, []string{"q-9"}, QuestionIDs(out))

	_, err = Bind(structure, "7z", "q-1")
	assert.True(t, errors.Is(err, ErrSlotNotFound))
}

func TestNormalize(t *testing.T) {
	in := []Slot{
		{ID: "x", Label: "whatever", QuestionID: "q1", Children: []Slot{
			{QuestionID: "q2", Children: []Slot{{}, {QuestionID: "q3"}}},
		}},
		{QuestionID: "q1"},
	}
	out, err := Normalize(in)
	require.NoError(t, err)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "1a", out[0].Children[0].ID)
	assert.Equal(t, "1aii", out[0].Children[0].Children[1].ID)
	assert.Equal(t, LevelNested, out[0].Children[0].Children[1].Level)
	assert.Equal(t, []string{"q1", "q2", "q3"}, QuestionIDs(out))

	tooDeep := []Slot{{Children: []Slot{{Children: []Slot{{Children: []Slot{{}}}}}}}}
	_, err = Normalize(tooDeep)
	assert.True(t, errors.Is(err, ErrInvalidStructure))
}

func TestNestedLabelFallsBackToDecimal(t *testing.T) {
	assert.Equal(t, "x", nestedLabel(9))
	assert.Equal(t, "11", nestedLabel(10))
}
