package gungi

import "fmt"

// Personality selects the move-scoring strategy of an AI agent. The set is
// closed; the generator dispatches on it exhaustively.
type Personality int

const (
	PersonalityAggressive Personality = iota
	PersonalityDefensive
	PersonalityBalanced
	PersonalityTactical
	PersonalityBlitz
)

var personalityNames = map[Personality]string{
	PersonalityAggressive: "AGGRESSIVE",
	PersonalityDefensive:  "DEFENSIVE",
	PersonalityBalanced:   "BALANCED",
	PersonalityTactical:   "TACTICAL",
	PersonalityBlitz:      "BLITZ",
}

func (p Personality) String() string {
	if name, ok := personalityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PERSONALITY_%d", int(p))
}

// ParsePersonality maps a config string to a personality.
func ParsePersonality(name string) (Personality, error) {
	for p, n := range personalityNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown personality %q", name)
}
