package core

import (
	"errors"
	"strings"
)

const (
	Essential     Priority = "essential"
	Important     Priority = "important"
	Discretionary Priority = "discretionary"
)

type (
	// Priority determines funding order when surplus is scarce.
	Priority string

	Money struct {
		Cents int64
	}

	// Envelope is a named budget bucket with a current balance and a
	// target amount for the period. Spending envelopes have no meaningful
	// target and never take part in reallocation.
	Envelope struct {
		ID       int64
		Name     string
		Icon     string
		Current  Money
		Target   Money
		Priority Priority
		Spending bool
	}

	// Transfer is an instruction to move an amount between two envelopes.
	Transfer struct {
		FromID int64
		ToID   int64
		Amount Money
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrNegativeAmount  = errors.New("negative amount")
	ErrEmptyName       = errors.New("empty envelope name")
	ErrInvalidPriority = errors.New("invalid priority")
	ErrSelfTransfer    = errors.New("transfer source and destination are the same envelope")
	ErrUnknownEnvelope = errors.New("unknown envelope")
)

// ParsePriority normalizes a priority string. The legacy value "flexible"
// maps to discretionary.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case Essential:
		return Essential, nil
	case Important:
		return Important, nil
	case Discretionary, "flexible":
		return Discretionary, nil
	}
	return "", ErrInvalidPriority
}

// Rank returns the funding order of the priority: essential first.
func (p Priority) Rank() int {
	switch p {
	case Essential:
		return 0
	case Important:
		return 1
	default:
		return 2
	}
}

func (p Priority) Validate() error {
	switch p {
	case Essential, Important, Discretionary:
		return nil
	}
	return ErrInvalidPriority
}

func (e Envelope) Validate() error {
	if len(strings.TrimSpace(e.Name)) == 0 {
		return ErrEmptyName
	}
	if len(e.Name) > 100 {
		return errors.New("envelope name too long (max 100 characters)")
	}
	if err := e.Current.Validate(); err != nil {
		return err
	}
	if err := e.Target.Validate(); err != nil {
		return err
	}
	// Spending envelopes sit outside the funding order and may omit priority.
	if e.Spending && e.Priority == "" {
		return nil
	}
	return e.Priority.Validate()
}

// Surplus is the amount by which the balance exceeds the target, floored at zero.
func (e Envelope) Surplus() Money {
	if d := e.Current.Cents - e.Target.Cents; d > 0 {
		return Money{Cents: d}
	}
	return Money{}
}

// Shortfall is the amount by which the balance is below the target, floored at zero.
func (e Envelope) Shortfall() Money {
	if d := e.Target.Cents - e.Current.Cents; d > 0 {
		return Money{Cents: d}
	}
	return Money{}
}

func (t Transfer) Validate() error {
	if t.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	if t.FromID == t.ToID {
		return ErrSelfTransfer
	}
	return nil
}
