package changeset

// Strategy selects which side prevails when both changed
type Strategy string

const (
	StrategyAirtableWins Strategy = "A_WINS"
	StrategySheetsWins   Strategy = "B_WINS"
	StrategyNewestWins   Strategy = "NEWEST_WINS"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyAirtableWins, StrategySheetsWins, StrategyNewestWins:
		return true
	}
	return false
}

// Decision is the action the executors take for one resolved conflict.
// Delete applies to the surviving side: the record for
// DELETED_IN_SHEETS, the row for DELETED_IN_AIRTABLE.
type Decision string

const (
	DecisionUseAirtable Decision = "USE_A"
	DecisionUseSheets   Decision = "USE_B"
	DecisionDelete      Decision = "DELETE"
	DecisionSkip        Decision = "SKIP"
)

// Resolution pairs a detected conflict with its decision
type Resolution struct {
	Conflict ConflictInfo
	Decision Decision
}

// Resolve applies the strategy to every conflict. Neither platform
// exposes reliable per-record mutation timestamps, so NEWEST_WINS falls
// back to the record side for concurrent edits and treats a deletion as
// the most recent event.
func Resolve(conflicts []ConflictInfo, strategy Strategy) []Resolution {
	out := make([]Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, Resolution{Conflict: c, Decision: decide(c.Kind, strategy)})
	}
	return out
}

func decide(kind ConflictKind, strategy Strategy) Decision {
	switch strategy {
	case StrategyAirtableWins:
		if kind == ConflictDeletedInAirtable {
			return DecisionDelete
		}
		return DecisionUseAirtable

	case StrategySheetsWins:
		if kind == ConflictDeletedInSheets {
			return DecisionDelete
		}
		return DecisionUseSheets

	case StrategyNewestWins:
		if kind == ConflictBothModified {
			return DecisionUseAirtable
		}
		return DecisionDelete

	default:
		return DecisionSkip
	}
}

// Summary is the resolved-conflict breakdown recorded on a sync log
type Summary struct {
	Total        int `json:"total"`
	AirtableWins int `json:"airtableWins"`
	SheetsWins   int `json:"sheetsWins"`
	Deletes      int `json:"deletes"`
	Skipped      int `json:"skipped"`
}

// Summarize tallies decisions for reporting
func Summarize(resolutions []Resolution) Summary {
	s := Summary{Total: len(resolutions)}
	for _, r := range resolutions {
		switch r.Decision {
		case DecisionUseAirtable:
			s.AirtableWins++
		case DecisionUseSheets:
			s.SheetsWins++
		case DecisionDelete:
			s.Deletes++
		default:
			s.Skipped++
		}
	}
	return s
}
