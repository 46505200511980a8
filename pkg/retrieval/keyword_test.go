package retrieval

import (
	"reflect"
	"strings"
	"testing"
)

func TestFold(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Düsseldorf", "duesseldorf"},
		{"STRASSE und Straße", "strasse und strasse"},
		{"Über Öl", "ueber oel"},
		{"plain text", "plain text"},
	}
	for _, c := range cases {
		if got := Fold(c.in); got != c.want {
			t.Errorf("Fold(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTermsKeepsDuplicates(t *testing.T) {
	got := Terms("Paris paris FRANCE")
	want := []string{"paris", "paris", "france"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms = %v, want %v (duplicates weight the ranking)", got, want)
	}
}

var cityDocs = []Document{
	{ID: "0", Text: "berlin is the capital of germany"},
	{ID: "1", Text: "paris is the capital of france"},
	{ID: "2", Text: "the rhine flows through duesseldorf"},
}

func TestRankOrdersByScore(t *testing.T) {
	ranked := Rank(cityDocs, "paris france")
	if len(ranked) != 1 {
		t.Fatalf("expected 1 match, got %d", len(ranked))
	}
	if ranked[0].ID != "1" || ranked[0].Score != 2 {
		t.Errorf("got %+v, want doc 1 with score 2", ranked[0])
	}
}

func TestRankExcludesZeroScores(t *testing.T) {
	ranked := Rank(cityDocs, "tokyo")
	if len(ranked) != 0 {
		t.Errorf("expected no matches, got %v", ranked)
	}
}

func TestRankEmptyKeywords(t *testing.T) {
	if got := Rank(cityDocs, "   "); got != nil {
		t.Errorf("expected nil for blank keywords, got %v", got)
	}
}

func TestRankDuplicateTermsDoubleCount(t *testing.T) {
	single := Rank(cityDocs, "capital")
	double := Rank(cityDocs, "capital capital")
	if len(single) != 2 || len(double) != 2 {
		t.Fatalf("expected 2 matches each, got %d and %d", len(single), len(double))
	}
	for i := range double {
		if double[i].Score != 2*single[i].Score {
			t.Errorf("doc %s: score %d, want doubled %d",
				double[i].ID, double[i].Score, 2*single[i].Score)
		}
	}
}

func TestRankStableTies(t *testing.T) {
	docs := []Document{
		{ID: "a", Text: "capital one"},
		{ID: "b", Text: "capital two"},
		{ID: "c", Text: "capital three"},
	}
	for i := 0; i < 5; i++ {
		ranked := Rank(docs, "capital")
		if ranked[0].ID != "a" || ranked[1].ID != "b" || ranked[2].ID != "c" {
			t.Fatalf("tie order changed on run %d: %v", i, ranked)
		}
	}
}

func TestRankFoldsQueryAndDocument(t *testing.T) {
	ranked := Rank(cityDocs, "Düsseldorf")
	if len(ranked) != 1 || ranked[0].ID != "2" {
		t.Errorf("folded query should match folded corpus text, got %v", ranked)
	}
}

func TestSearchIdempotent(t *testing.T) {
	first := Search(cityDocs, "capital", 100)
	second := Search(cityDocs, "capital", 100)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical searches differ: %v vs %v", first, second)
	}
}

func TestApplyBudgetStopsOnOverflow(t *testing.T) {
	chunks := []string{
		strings.Repeat("a", 8),
		strings.Repeat("b", 8),
		strings.Repeat("c", 2),
	}
	// The second chunk overflows a budget of 10 and the walk stops there:
	// the small third chunk is not pulled forward past it.
	got := ApplyBudget(chunks, 10)
	if len(got) != 1 || got[0] != chunks[0] {
		t.Errorf("ApplyBudget = %v, want just the first chunk", got)
	}
}

func TestApplyBudgetMonotone(t *testing.T) {
	chunks := []string{"aaaa", "bbbb", "cccc", "dddd"}
	prev := -1
	for budget := 1; budget <= 20; budget++ {
		n := len(ApplyBudget(chunks, budget))
		if n < prev {
			t.Fatalf("budget %d kept %d chunks, fewer than budget %d's %d", budget, n, budget-1, prev)
		}
		prev = n
	}
}

func TestApplyBudgetUnlimited(t *testing.T) {
	chunks := []string{"a", "b", "c"}
	if got := ApplyBudget(chunks, 0); len(got) != 3 {
		t.Errorf("budget 0 should be unlimited, got %v", got)
	}
	if got := ApplyBudget(chunks, -1); len(got) != 3 {
		t.Errorf("negative budget should be unlimited, got %v", got)
	}
}

func TestApplyBudgetExactFit(t *testing.T) {
	chunks := []string{"aaaa", "bbbb"}
	if got := ApplyBudget(chunks, 8); len(got) != 2 {
		t.Errorf("chunks exactly filling the budget should all fit, got %v", got)
	}
	if got := ApplyBudget(chunks, 7); len(got) != 1 {
		t.Errorf("budget 7 fits only the first chunk, got %v", got)
	}
}
