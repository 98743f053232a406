package model

import "time"

// Transfer is one incoming bank payment. Transfers are never modified
// after import.
type Transfer struct {
	UID         string    `json:"uid"`
	Amount      int64     `json:"amount"`
	Title       string    `json:"title"`
	AccountFrom string    `json:"account_from"`
	NameFrom    string    `json:"name_from"`
	Date        time.Time `json:"date"`
}

// MemberTransfer assigns a share of a Transfer to one member's period.
type MemberTransfer struct {
	ID       string    `json:"id"`
	MemberID string    `json:"member_id"`
	Period   Period    `json:"period"`
	Transfer *Transfer `json:"transfer,omitempty"`

	// Refs is the number of assignments referencing the same transfer,
	// when loaded by the store. Zero means unknown.
	Refs int `json:"-"`
}

// Share returns the amount attributed to this assignment, if Refs is known.
func (mt MemberTransfer) Share() int64 {
	if mt.Transfer == nil || mt.Refs <= 0 {
		return 0
	}
	share, _ := Split(mt.Transfer.Amount, mt.Refs)
	return share
}

// Split divides amount evenly across refs assignments.
// The per-assignment share is floored; remainder is the part of the amount
// no assignment is credited with (amount = share*refs + remainder).
func Split(amount int64, refs int) (share, remainder int64) {
	if refs <= 0 {
		return 0, amount
	}
	n := int64(refs)
	share = amount / n
	if amount < 0 && amount%n != 0 {
		share--
	}
	return share, amount - share*n
}

// PeriodShare is one assignment's contribution to a period total.
type PeriodShare struct {
	TransferUID string
	Amount      int64
	Refs        int
}
