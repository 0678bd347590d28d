package domain

import "time"

// Phone types as stored in the phones table. Only cell numbers can receive a
// verification code.
const (
	PhoneTypeCell = "cell"
	PhoneTypeWork = "work"
	PhoneTypeHome = "home"
)

type User struct {
	ID        string // ULID
	Username  string
	OTPSecret string // base32 encoded, created at account setup
	Active    bool
	GroupIDs  []string
	Phones    []Phone

	// Set after a successful second-factor login.
	TFALogin     bool
	AutoLogoutAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Phone struct {
	ID     string
	UserID string
	Type   string // cell, work, home
	Number string
}

// CellPhone returns the first cell-type phone with a non-empty number.
func (u User) CellPhone() (Phone, bool) {
	for _, p := range u.Phones {
		if p.Type == PhoneTypeCell && p.Number != "" {
			return p, true
		}
	}
	return Phone{}, false
}

// HasPhones reports whether the user has any phone records at all. The policy
// layer uses this as the capability check; whether any of them is a cell
// number is decided later, fail closed.
func (u User) HasPhones() bool { return len(u.Phones) > 0 }
