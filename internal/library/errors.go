package library

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("library: invalid email or password")

	// ErrInactiveUser is returned when a deactivated user logs in or borrows.
	ErrInactiveUser = errors.New("library: user account is inactive")

	// ErrAdminRegistration is returned when self-registration asks for the
	// ADMIN type.
	ErrAdminRegistration = errors.New("library: cannot register as administrator")

	// ErrInvalidToken is returned for unknown, revoked or expired tokens.
	ErrInvalidToken = errors.New("library: invalid or expired token")

	// ErrLoanLimit is returned when the user already holds the maximum number
	// of books allowed by their loan policy.
	ErrLoanLimit = errors.New("library: loan limit reached")

	// ErrNoCopyAvailable is returned when every copy of the book is out.
	ErrNoCopyAvailable = errors.New("library: no copy available")

	// ErrLoanNotActive is returned when returning a loan twice.
	ErrLoanNotActive = errors.New("library: loan is not active")

	// ErrNoLoanPolicy is returned when the user's type may not borrow.
	ErrNoLoanPolicy = errors.New("library: no loan policy for user type")
)
