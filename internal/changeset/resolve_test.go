package changeset

import "testing"

func TestResolveDecisions(t *testing.T) {
	tests := []struct {
		name     string
		kind     ConflictKind
		strategy Strategy
		want     Decision
	}{
		{"airtable wins concurrent edit", ConflictBothModified, StrategyAirtableWins, DecisionUseAirtable},
		{"airtable wins restores deleted row", ConflictDeletedInSheets, StrategyAirtableWins, DecisionUseAirtable},
		{"airtable wins applies own deletion", ConflictDeletedInAirtable, StrategyAirtableWins, DecisionDelete},

		{"sheets wins concurrent edit", ConflictBothModified, StrategySheetsWins, DecisionUseSheets},
		{"sheets wins applies own deletion", ConflictDeletedInSheets, StrategySheetsWins, DecisionDelete},
		{"sheets wins restores deleted record", ConflictDeletedInAirtable, StrategySheetsWins, DecisionUseSheets},

		{"newest falls back to record side", ConflictBothModified, StrategyNewestWins, DecisionUseAirtable},
		{"newest treats sheet deletion as latest", ConflictDeletedInSheets, StrategyNewestWins, DecisionDelete},
		{"newest treats record deletion as latest", ConflictDeletedInAirtable, StrategyNewestWins, DecisionDelete},

		{"unknown strategy skips", ConflictBothModified, Strategy("LOUDEST_WINS"), DecisionSkip},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve([]ConflictInfo{{RecordID: "rec1", Kind: tc.kind}}, tc.strategy)
			if len(got) != 1 {
				t.Fatalf("resolutions = %d, want 1", len(got))
			}
			if got[0].Decision != tc.want {
				t.Errorf("decision = %s, want %s", got[0].Decision, tc.want)
			}
			if got[0].Conflict.RecordID != "rec1" {
				t.Errorf("conflict not carried through: %+v", got[0].Conflict)
			}
		})
	}
}

func TestStrategyValid(t *testing.T) {
	for _, s := range []Strategy{StrategyAirtableWins, StrategySheetsWins, StrategyNewestWins} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Strategy("").Valid() || Strategy("COIN_FLIP").Valid() {
		t.Error("unknown strategies should be invalid")
	}
}

func TestSummarize(t *testing.T) {
	rs := []Resolution{
		{Decision: DecisionUseAirtable},
		{Decision: DecisionUseAirtable},
		{Decision: DecisionUseSheets},
		{Decision: DecisionDelete},
		{Decision: DecisionSkip},
	}

	got := Summarize(rs)
	want := Summary{Total: 5, AirtableWins: 2, SheetsWins: 1, Deletes: 1, Skipped: 1}
	if got != want {
		t.Errorf("summary = %+v, want %+v", got, want)
	}
}
