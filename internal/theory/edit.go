package theory

import "fmt"

// The editing operations never modify their input; they return a relabelled
// copy so callers can keep the previous outline for undo.

func AddMain(structure []Slot) []Slot {
	out := clone(structure)
	out = append(out, Slot{Level: LevelMain})
	return relabel(out)
}

func RemoveMain(structure []Slot, mainIdx int) ([]Slot, error) {
	if mainIdx < 0 || mainIdx >= len(structure) {
		return nil, fmt.Errorf("%w: main %d", ErrSlotNotFound, mainIdx)
	}
	out := clone(structure)
	out = append(out[:mainIdx], out[mainIdx+1:]...)
	return relabel(out), nil
}

func AddSubPart(structure []Slot, mainIdx int) ([]Slot, error) {
	if mainIdx < 0 || mainIdx >= len(structure) {
		return nil, fmt.Errorf("%w: main %d", ErrSlotNotFound, mainIdx)
	}
	if len(structure[mainIdx].Children) >= maxSubParts {
		return nil, ErrTooManyParts
	}
	out := clone(structure)
	out[mainIdx].Children = append(out[mainIdx].Children, Slot{Level: LevelSub})
	return relabel(out), nil
}

func RemoveSubPart(structure []Slot, mainIdx, subIdx int) ([]Slot, error) {
	if err := checkSub(structure, mainIdx, subIdx); err != nil {
		return nil, err
	}
	out := clone(structure)
	subs := out[mainIdx].Children
	out[mainIdx].Children = append(subs[:subIdx], subs[subIdx+1:]...)
	return relabel(out), nil
}

func AddNestedPart(structure []Slot, mainIdx, subIdx int) ([]Slot, error) {
	if err := checkSub(structure, mainIdx, subIdx); err != nil {
		return nil, err
	}
	out := clone(structure)
	sub := &out[mainIdx].Children[subIdx]
	sub.Children = append(sub.Children, Slot{Level: LevelNested})
	return relabel(out), nil
}

func RemoveNestedPart(structure []Slot, mainIdx, subIdx, nestedIdx int) ([]Slot, error) {
	if err := checkSub(structure, mainIdx, subIdx); err != nil {
		return nil, err
	}
	nested := structure[mainIdx].Children[subIdx].Children
	if nestedIdx < 0 || nestedIdx >= len(nested) {
		return nil, fmt.Errorf("%w: nested %d", ErrSlotNotFound, nestedIdx)
	}
	out := clone(structure)
	sub := &out[mainIdx].Children[subIdx]
	sub.Children = append(sub.Children[:nestedIdx], sub.Children[nestedIdx+1:]...)
	return relabel(out), nil
}

// Bind sets or clears (questionID == "") the question of the slot with the
// given id.
func Bind(structure []Slot, slotID, questionID string) ([]Slot, error) {
	out := clone(structure)
	if !bind(out, slotID, questionID) {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, slotID)
	}
	return out, nil
}

func bind(slots []Slot, slotID, questionID string) bool {
	for i := range slots {
		if slots[i].ID == slotID {
			slots[i].QuestionID = questionID
			return true
		}
		if bind(slots[i].Children, slotID, questionID) {
			return true
		}
	}
	return false
}

// Normalize validates an outline submitted by an operator and rewrites its
// labels, ids and levels from positions. It rejects outlines deeper than three
// levels or with more than 26 sub-parts under one main question.
func Normalize(structure []Slot) ([]Slot, error) {
	for _, main := range structure {
		if len(main.Children) > maxSubParts {
			return nil, fmt.Errorf("%w: main %s has %d sub-parts", ErrTooManyParts, main.Label, len(main.Children))
		}
		for _, sub := range main.Children {
			for _, nested := range sub.Children {
				if len(nested.Children) > 0 {
					return nil, fmt.Errorf("%w: nesting deeper than three levels", ErrInvalidStructure)
				}
			}
		}
	}
	return relabel(clone(structure)), nil
}

func checkSub(structure []Slot, mainIdx, subIdx int) error {
	if mainIdx < 0 || mainIdx >= len(structure) {
		return fmt.Errorf("%w: main %d", ErrSlotNotFound, mainIdx)
	}
	if subIdx < 0 || subIdx >= len(structure[mainIdx].Children) {
		return fmt.Errorf("%w: sub %d", ErrSlotNotFound, subIdx)
	}
	return nil
}

func relabel(structure []Slot) []Slot {
	for i := range structure {
		main := &structure[i]
		main.Label = mainLabel(i)
		main.ID = main.Label
		main.Level = LevelMain
		for j := range main.Children {
			sub := &main.Children[j]
			sub.Label = subLabel(j)
			sub.ID = main.ID + sub.Label
			sub.Level = LevelSub
			for k := range sub.Children {
				nested := &sub.Children[k]
				nested.Label = nestedLabel(k)
				nested.ID = sub.ID + nested.Label
				nested.Level = LevelNested
			}
		}
	}
	return structure
}

func clone(structure []Slot) []Slot {
	if structure == nil {
		return nil
	}
	out := make([]Slot, len(structure))
	for i, s := range structure {
		out[i] = s
		out[i].Children = clone(s.Children)
	}
	return out
}
