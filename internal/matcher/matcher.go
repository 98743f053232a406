// Package matcher decides whether an incoming transfer identifies exactly one member.
package matcher

import (
	"sort"
	"strings"
	"unicode"

	"github.com/duesledger/duesledger/internal/model"
)

// Outcome is the matchability class of a transfer.
type Outcome int

// Outcomes.
const (
	MatchNone Outcome = iota
	MatchOK
	MatchAmbiguous
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case MatchOK:
		return "ok"
	case MatchAmbiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// Result is a classification. Member is set only for MatchOK.
// Candidates lists the usernames that satisfied the heuristic, sorted.
type Result struct {
	Outcome    Outcome
	Member     *model.Member
	Candidates []string
}

// Classify checks which active members the transfer points at.
// A member is a candidate if its username occurs as a whole word in the
// transfer title or sender name, or if the sender account is one of the
// member's registered accounts. Inactive members are never candidates.
// Transfers with a non-positive amount never match anyone.
func Classify(t *model.Transfer, members []*model.Member) Result {
	if t == nil || t.Amount <= 0 {
		return Result{Outcome: MatchNone, Candidates: []string{}}
	}

	title := strings.ToLower(t.Title)
	name := strings.ToLower(t.NameFrom)

	byName := make(map[string]*model.Member)
	for _, m := range members {
		if m == nil || !m.Active || m.Username == "" {
			continue
		}
		username := strings.ToLower(m.Username)
		if containsWord(title, username) || containsWord(name, username) || m.HasAccount(t.AccountFrom) {
			byName[m.Username] = m
		}
	}

	candidates := make([]string, 0, len(byName))
	for u := range byName {
		candidates = append(candidates, u)
	}
	sort.Strings(candidates)

	switch len(candidates) {
	case 0:
		return Result{Outcome: MatchNone, Candidates: candidates}
	case 1:
		return Result{Outcome: MatchOK, Member: byName[candidates[0]], Candidates: candidates}
	default:
		return Result{Outcome: MatchAmbiguous, Candidates: candidates}
	}
}

// containsWord reports whether word occurs in text delimited by
// non-alphanumeric runes or the text edges.
func containsWord(text, word string) bool {
	for offset := 0; offset <= len(text)-len(word); {
		i := strings.Index(text[offset:], word)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(word)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r := lastRune(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r := []rune(text[i:])[0]
	return !isWordRune(r)
}

func lastRune(s string) rune {
	rs := []rune(s)
	return rs[len(rs)-1]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
