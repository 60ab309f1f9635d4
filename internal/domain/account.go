package domain

import (
	"regexp"
	"time"
)

type Account struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Currency  string    `json:"currency"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateCurrency reports whether c looks like an ISO 4217 code.
func ValidateCurrency(c string) bool {
	return currencyRe.MatchString(c)
}
