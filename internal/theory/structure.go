// Package theory builds and edits the nested outline of a theory exam:
// main questions (1, 2 ...), lettered sub-parts (a, b ...) and roman nested
// parts (i, ii ...). Slot ids concatenate the labels on the path, e.g. "2bi".
package theory

import (
	"errors"
	"strconv"
)

const (
	LevelMain   = 1
	LevelSub    = 2
	LevelNested = 3
)

// maxSubParts keeps lettered labels within a..z.
const maxSubParts = 26

var (
	ErrInvalidStructure = errors.New("invalid theory structure")
	ErrSlotNotFound     = errors.New("theory slot not found")
	ErrTooManyParts     = errors.New("too many sub-parts")
)

type Slot struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Level      int    `json:"level"`
	QuestionID string `json:"question_id,omitempty"`
	Children   []Slot `json:"children,omitempty"`
}

type Settings struct {
	TotalMainQuestions  int  `json:"total_main_questions"`
	IncludeAlphabet     bool `json:"include_alphabet"`
	IncludeRoman        bool `json:"include_roman"`
	RandomizeComplexity bool `json:"randomize_complexity"`
}

func DefaultSettings() Settings {
	return Settings{TotalMainQuestions: 4, IncludeAlphabet: true}
}

var romanNumerals = []string{"i", "ii", "iii", "iv", "v", "vi", "vii", "viii", "ix", "x"}

func mainLabel(i int) string {
	return strconv.Itoa(i + 1)
}

func subLabel(j int) string {
	return string(rune('a' + j))
}

func nestedLabel(k int) string {
	if k < len(romanNumerals) {
		return romanNumerals[k]
	}
	return strconv.Itoa(k + 1)
}

// QuestionIDs returns the bound question ids in outline order, each once.
func QuestionIDs(structure []Slot) []string {
	out := make([]string, 0)
	seen := make(map[string]struct{})
	var walk func(slots []Slot)
	walk = func(slots []Slot) {
		for _, s := range slots {
			if s.QuestionID != "" {
				if _, ok := seen[s.QuestionID]; !ok {
					seen[s.QuestionID] = struct{}{}
					out = append(out, s.QuestionID)
				}
			}
			walk(s.Children)
		}
	}
	walk(structure)
	return out
}

// CountSlots returns the number of slots and how many of them are bound.
func CountSlots(structure []Slot) (total, bound int) {
	for _, s := range structure {
		total++
		if s.QuestionID != "" {
			bound++
		}
		t, b := CountSlots(s.Children)
		total += t
		bound += b
	}
	return total, bound
}
