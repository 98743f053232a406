// Package notify renders per-member dues summaries and delivers them.
package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/duesledger/duesledger/internal/arrears"
	"github.com/duesledger/duesledger/internal/config"
	"github.com/duesledger/duesledger/internal/model"
)

// Level grades how far behind a member is.
type Level string

// Level values.
const (
	LevelOK       Level = "ok"
	LevelWarn     Level = "warn"
	LevelCritical Level = "critical"
)

// Payment is one paid period in a summary.
type Payment struct {
	Period model.Period `json:"period"`
	Amount int64        `json:"amount"`
	Date   time.Time    `json:"date"`
}

// Summary is the dues report for one member.
type Summary struct {
	Username  string           `json:"username"`
	Accounts  []string         `json:"accounts,omitempty"`
	AsOf      time.Time        `json:"as_of"`
	MonthsDue int              `json:"months_due"`
	AmountDue int64            `json:"amount_due"`
	Standing  arrears.Standing `json:"standing"`
	Level     Level            `json:"level"`
	Payments  []Payment        `json:"payments"`
	Text      string           `json:"text"`
}

// BuildSummary computes the summary for m as of now and renders its text.
func BuildSummary(m *model.Member, policy config.Policy, now time.Time) (Summary, error) {
	period := model.PeriodOf(now)
	due := arrears.MonthsDue(m, period)

	s := Summary{
		Username:  m.Username,
		Accounts:  m.Accounts,
		AsOf:      now,
		MonthsDue: due,
		AmountDue: arrears.AmountDue(m, policy.Fee(m.Tier), period),
		Standing:  arrears.StandingOf(due),
		Level:     levelOf(due, policy),
	}

	assignments := append([]model.MemberTransfer(nil), m.Assignments...)
	model.SortAssignments(assignments)
	for _, mt := range assignments {
		p := Payment{Period: mt.Period}
		if mt.Transfer != nil {
			p.Amount = mt.Transfer.Amount
			p.Date = mt.Transfer.Date
		}
		s.Payments = append(s.Payments, p)
	}

	text, err := Render(s)
	if err != nil {
		return Summary{}, err
	}
	s.Text = text
	return s, nil
}

func levelOf(due int, policy config.Policy) Level {
	switch {
	case due >= policy.CriticalMonths:
		return LevelCritical
	case due >= policy.WarnMonths && due > 0:
		return LevelWarn
	default:
		return LevelOK
	}
}

var summaryTmpl = template.Must(template.New("summary").Funcs(template.FuncMap{
	"money":        formatMoney,
	"date":         func(t time.Time) string { return t.Format("02/01/2006") },
	"standingLine": standingLine,
}).Parse(`Hi {{.Username}},

here is the state of your membership dues as of {{date .AsOf}}:

{{standingLine .}}

Your payments:
{{- range .Payments}}
 - dues for {{.Period}}, covered by a transfer of {{money .Amount}} on {{date .Date}}
{{- else}}
 - none recorded
{{- end}}

If anything looks wrong, reply to this message and the treasurer will look into it.
`))

// Render produces the plain-text body of a summary.
func Render(s Summary) (string, error) {
	var b strings.Builder
	if err := summaryTmpl.Execute(&b, s); err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}
	return b.String(), nil
}

func standingLine(s Summary) string {
	switch {
	case s.MonthsDue < 0:
		return "You are ahead with your dues. Great!"
	case s.MonthsDue == 0:
		return "You are up to date with your dues. Hooray!"
	}

	var line string
	if s.MonthsDue == 1 {
		line = fmt.Sprintf("You are one month (%s) behind.", formatMoney(s.AmountDue))
	} else {
		line = fmt.Sprintf("You are %d months (%s) behind.", s.MonthsDue, formatMoney(s.AmountDue))
	}
	if s.Level == LevelCritical {
		line += "\nBeing this far behind means losing membership. You have one week from this message to settle your dues."
	}
	return line
}

// formatMoney prints minor units as a decimal amount.
func formatMoney(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
