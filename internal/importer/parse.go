// Package importer reads parsed bank statement exports into transfers.
//
// Two formats are accepted. CSV files carry a header row naming the columns
// uid, date, amount, title, account_from and name_from (any order, extra
// columns ignored). JSON files hold an array of objects with the same keys.
// Amounts are decimal strings in major units ("123.45"); dates are
// YYYY-MM-DD or RFC 3339. Only incoming payments are accepted: a row with
// a zero or negative amount rejects the whole file.
package importer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/duesledger/duesledger/internal/model"
)

// Import errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported statement format")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDate       = errors.New("invalid date")
	ErrMissingColumn     = errors.New("missing column")
	ErrMissingUID        = errors.New("missing uid")
)

var requiredColumns = []string{"uid", "date", "amount"}

// record is one statement row before validation.
type record struct {
	UID         string          `json:"uid"`
	Date        string          `json:"date"`
	Amount      json.RawMessage `json:"amount"`
	Title       string          `json:"title"`
	AccountFrom string          `json:"account_from"`
	NameFrom    string          `json:"name_from"`
}

// ParseFile parses a statement file, choosing the format by extension.
func ParseFile(path string) ([]*model.Transfer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open statement: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ParseCSV(f)
	case ".json":
		return ParseJSON(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Supported reports whether path has a parseable extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".json":
		return true
	}
	return false
}

// ParseCSV parses a CSV statement with a header row.
func ParseCSV(r io.Reader) ([]*model.Transfer, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	get := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var transfers []*model.Transfer
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		t, err := buildTransfer(record{
			UID:         get(row, "uid"),
			Date:        get(row, "date"),
			Amount:      json.RawMessage(strconv.Quote(get(row, "amount"))),
			Title:       get(row, "title"),
			AccountFrom: get(row, "account_from"),
			NameFrom:    get(row, "name_from"),
		})
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

// ParseJSON parses a JSON array of statement records.
func ParseJSON(r io.Reader) ([]*model.Transfer, error) {
	var records []record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode statement: %w", err)
	}

	transfers := make([]*model.Transfer, 0, len(records))
	for i, rec := range records {
		t, err := buildTransfer(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

func buildTransfer(rec record) (*model.Transfer, error) {
	uid := strings.TrimSpace(rec.UID)
	if uid == "" {
		return nil, ErrMissingUID
	}

	amount, err := parseAmountJSON(rec.Amount)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: transfer %s is not incoming (%s)", ErrInvalidAmount, uid, formatMinor(amount))
	}

	date, err := ParseDate(rec.Date)
	if err != nil {
		return nil, err
	}

	return &model.Transfer{
		UID:         uid,
		Amount:      amount,
		Title:       strings.TrimSpace(rec.Title),
		AccountFrom: strings.TrimSpace(rec.AccountFrom),
		NameFrom:    strings.TrimSpace(rec.NameFrom),
		Date:        date,
	}, nil
}

func parseAmountJSON(raw json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
		}
		s = n.String()
	}
	return ParseAmount(s)
}

// Largest amount representable in minor units, split at the separator.
const (
	maxMajor = math.MaxInt64 / 100
	maxMinor = math.MaxInt64 % 100
)

// ParseAmount converts a decimal string in major units to minor units.
// It accepts one optional leading sign, a comma or dot separator and at
// most two fractional digits. Statement rows must still be positive; see
// buildTransfer.
func ParseAmount(s string) (int64, error) {
	in := s
	s = strings.TrimSpace(strings.ReplaceAll(s, " ", ""))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(strings.Replace(s, ",", ".", 1), ".")
	if !isDigits(whole) || (hasFrac && (!isDigits(frac) || len(frac) > 2)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, in)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	major, err := strconv.ParseInt(whole, 10, 64)
	minor, _ := strconv.ParseInt(frac, 10, 64)
	if err != nil || major > maxMajor || (major == maxMajor && minor > maxMinor) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, in)
	}

	v := major*100 + minor
	if neg {
		v = -v
	}
	return v, nil
}

// isDigits reports whether s is a non-empty run of ASCII digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseDate accepts YYYY-MM-DD or RFC 3339.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
