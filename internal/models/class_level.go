package models

import "strings"

// ClassLevel is a grade in the school's fixed, totally ordered class sequence.
type ClassLevel string

const (
	ClassPlaygroup ClassLevel = "Playgroup"
	ClassNursery   ClassLevel = "Nursery"
	ClassKG1       ClassLevel = "KG-1"
	ClassKG2       ClassLevel = "KG-2"
	Class1st       ClassLevel = "1st"
	Class2nd       ClassLevel = "2nd"
	Class3rd       ClassLevel = "3rd"
	Class4th       ClassLevel = "4th"
	Class5th       ClassLevel = "5th"
	Class6th       ClassLevel = "6th"
	Class7th       ClassLevel = "7th"
	Class8th       ClassLevel = "8th"
)

var classSequence = []ClassLevel{
	ClassPlaygroup, ClassNursery, ClassKG1, ClassKG2,
	Class1st, Class2nd, Class3rd, Class4th, Class5th, Class6th, Class7th, Class8th,
}

// AllClassLevels returns the sequence lowest first. The slice is a copy.
func AllClassLevels() []ClassLevel {
	out := make([]ClassLevel, len(classSequence))
	copy(out, classSequence)
	return out
}

// ParseClassLevel matches raw case-insensitively against the sequence.
func ParseClassLevel(raw string) (ClassLevel, bool) {
	raw = strings.TrimSpace(raw)
	for _, c := range classSequence {
		if strings.EqualFold(string(c), raw) {
			return c, true
		}
	}
	return "", false
}

// Index is the position of c in the sequence, or -1 when c is not part of it.
func (c ClassLevel) Index() int {
	for i, level := range classSequence {
		if level == c {
			return i
		}
	}
	return -1
}

// Valid reports whether c belongs to the sequence.
func (c ClassLevel) Valid() bool { return c.Index() >= 0 }

// IsTerminal reports whether c is the final grade.
func (c ClassLevel) IsTerminal() bool { return c == classSequence[len(classSequence)-1] }

// Next returns the successor grade; ok is false for the terminal grade and unknown values.
func (c ClassLevel) Next() (next ClassLevel, ok bool) {
	idx := c.Index()
	if idx < 0 || idx == len(classSequence)-1 {
		return "", false
	}
	return classSequence[idx+1], true
}

func (c ClassLevel) String() string { return string(c) }
