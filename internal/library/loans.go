package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacentio/bibliodigit/internal/config"
	"github.com/jacentio/bibliodigit/internal/validation"
	"github.com/jacentio/bibliodigit/store"
)

const maxCopiesPerCall = 100

// Policy returns the loan policy of a user type.
func (l *Library) Policy(typeName string) (config.LoanPolicy, error) {
	p, ok := l.policy.Policies[NormalizeType(typeName)]
	if !ok {
		return config.LoanPolicy{}, fmt.Errorf("%w: %s", ErrNoLoanPolicy, NormalizeType(typeName))
	}
	return p, nil
}

// AddCopies adds n available copies of a book.
func (l *Library) AddCopies(ctx context.Context, bookID string, n int) ([]*Copy, error) {
	if n < 1 || n > maxCopiesPerCall {
		return nil, validation.New("count", fmt.Sprintf("must be between 1 and %d", maxCopiesPerCall))
	}
	out := make([]*Copy, 0, n)
	for range n {
		c := &Copy{BookID: bookID, Available: true}
		if err := l.copies.Create(ctx, c); err != nil {
			return out, err
		}
		out = append(out, c)
	}
	l.logger.Info("copies added", "bookId", bookID, "count", n)
	return out, nil
}

// Copies lists the copies of a book.
func (l *Library) Copies(ctx context.Context, bookID string) ([]*Copy, error) {
	return l.copies.Find(ctx, store.Query{Parent: store.NewRef(KindBook, bookID)})
}

// Borrow lends an available copy of the book to the user.
//
// The copy is claimed first; losing the race for one copy moves on to the
// next. The user's loan counter is then raised under the policy maximum,
// and finally the loan is recorded. A failing step undoes the earlier ones.
func (l *Library) Borrow(ctx context.Context, userID, bookID string) (*Loan, error) {
	u, err := l.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	if !u.Active {
		return nil, ErrInactiveUser
	}
	t, err := l.userTypes.Get(ctx, u.TypeID)
	if err != nil {
		return nil, fmt.Errorf("type of user %s: %w", userID, err)
	}
	policy, err := l.Policy(t.Type)
	if err != nil {
		return nil, err
	}
	if u.ActiveLoans >= policy.MaxBooks {
		return nil, fmt.Errorf("%w: %d of %d", ErrLoanLimit, u.ActiveLoans, policy.MaxBooks)
	}
	if _, err := l.books.Get(ctx, bookID); err != nil {
		return nil, fmt.Errorf("book %s: %w", bookID, err)
	}

	c, err := l.claimCopy(ctx, bookID)
	if err != nil {
		return nil, err
	}

	_, err = modify(ctx, l.users, userID, func(u *User) error {
		if !u.Active {
			return ErrInactiveUser
		}
		if u.ActiveLoans >= policy.MaxBooks {
			return fmt.Errorf("%w: %d of %d", ErrLoanLimit, u.ActiveLoans, policy.MaxBooks)
		}
		u.ActiveLoans++
		return nil
	})
	if err != nil {
		l.releaseCopy(ctx, c.ID)
		return nil, err
	}

	now := l.clock()
	loan := &Loan{
		BookID:     bookID,
		CopyID:     c.ID,
		UserID:     userID,
		Status:     LoanActive,
		BorrowedAt: now,
		DueAt:      now.Add(time.Duration(policy.MaxDays) * 24 * time.Hour),
	}
	if err := l.loans.Create(ctx, loan); err != nil {
		l.dropActiveLoan(ctx, userID)
		l.releaseCopy(ctx, c.ID)
		return nil, err
	}
	l.logger.Info("book borrowed", "loanId", loan.ID, "userId", userID, "bookId", bookID, "copyId", c.ID, "dueAt", loan.DueAt)
	return loan, nil
}

// Return closes an active loan. A late return is marked OVERDUE and fined
// for every whole day past the due date.
func (l *Library) Return(ctx context.Context, loanID string) (*Loan, error) {
	loan, err := l.loans.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != LoanActive {
		return nil, fmt.Errorf("%w: %s", ErrLoanNotActive, loan.Status)
	}

	now := l.clock()
	loan.ReturnedAt = &now
	if now.After(loan.DueAt) {
		loan.Status = LoanOverdue
		loan.FineCents = loan.DaysOverdue(now) * l.policy.FinePerDayCents
	} else {
		loan.Status = LoanReturned
	}
	// The version read above makes concurrent returns of one loan collide
	// here: exactly one of them gets past this update.
	if err := l.loans.Update(ctx, loan); err != nil {
		return nil, err
	}

	var errs []error
	if err := l.freeCopy(ctx, loan.CopyID); err != nil {
		errs = append(errs, fmt.Errorf("free copy %s: %w", loan.CopyID, err))
	}
	if err := l.decrementLoans(ctx, loan.UserID); err != nil {
		errs = append(errs, fmt.Errorf("update loans of user %s: %w", loan.UserID, err))
	}
	if err := errors.Join(errs...); err != nil {
		l.logger.Error("loan returned with inconsistent state", "loanId", loan.ID, "error", err)
		return loan, err
	}

	if loan.Status == LoanOverdue {
		l.logger.Warn("book returned late", "loanId", loan.ID, "daysOverdue", loan.DaysOverdue(now), "fineCents", loan.FineCents)
	} else {
		l.logger.Info("book returned", "loanId", loan.ID)
	}
	return loan, nil
}

func (l *Library) Loan(ctx context.Context, id string) (*Loan, error) {
	return l.loans.Get(ctx, id)
}

// ActiveLoans lists the loans the user has out.
func (l *Library) ActiveLoans(ctx context.Context, userID string) ([]*Loan, error) {
	return l.loans.Find(ctx, store.Query{
		Filters: []store.Filter{store.Eq("userId", userID), store.Eq("status", LoanActive)},
		OrderBy: "dueAt",
	})
}

// LoanHistory lists every loan of the user, oldest first.
func (l *Library) LoanHistory(ctx context.Context, userID string) ([]*Loan, error) {
	return l.loans.Find(ctx, store.Query{
		Filters: []store.Filter{store.Eq("userId", userID)},
		OrderBy: "borrowedAt",
	})
}

// Overdue lists active loans past their due date.
func (l *Library) Overdue(ctx context.Context) ([]*Loan, error) {
	return l.loans.Find(ctx, store.Query{
		Filters: []store.Filter{store.Eq("status", LoanActive), store.Lt("dueAt", l.clock())},
		OrderBy: "dueAt",
	})
}

// Fine returns the loan's fine in cents. It keeps accruing while the loan
// is out past its due date.
func (l *Library) Fine(ctx context.Context, loanID string) (int64, error) {
	loan, err := l.loans.Get(ctx, loanID)
	if err != nil {
		return 0, err
	}
	if loan.Status != LoanActive {
		return loan.FineCents, nil
	}
	return loan.DaysOverdue(l.clock()) * l.policy.FinePerDayCents, nil
}

// CanBorrow reports whether the user may take another book now. Unknown
// and inactive users cannot.
func (l *Library) CanBorrow(ctx context.Context, userID string) (bool, error) {
	u, err := l.users.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !u.Active {
		return false, nil
	}
	t, err := l.userTypes.Get(ctx, u.TypeID)
	if err != nil {
		return false, err
	}
	policy, err := l.Policy(t.Type)
	if errors.Is(err, ErrNoLoanPolicy) {
		return false, nil
	}
	return u.ActiveLoans < policy.MaxBooks, nil
}

// claimCopy marks one available copy of the book as taken.
func (l *Library) claimCopy(ctx context.Context, bookID string) (*Copy, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		available, err := l.copies.Find(ctx, store.Query{
			Parent:  store.NewRef(KindBook, bookID),
			Filters: []store.Filter{store.Eq("available", true)},
		})
		if err != nil {
			return nil, err
		}
		if len(available) == 0 {
			return nil, ErrNoCopyAvailable
		}
		for _, c := range available {
			c.Available = false
			err := l.copies.Update(ctx, c)
			if err == nil {
				return c, nil
			}
			if !errors.Is(err, store.ErrConcurrentModification) && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
		}
	}
	return nil, ErrNoCopyAvailable
}

func (l *Library) freeCopy(ctx context.Context, copyID string) error {
	_, err := modify(ctx, l.copies, copyID, func(c *Copy) error {
		c.Available = true
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (l *Library) decrementLoans(ctx context.Context, userID string) error {
	_, err := modify(ctx, l.users, userID, func(u *User) error {
		if u.ActiveLoans > 0 {
			u.ActiveLoans--
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// releaseCopy and dropActiveLoan undo Borrow steps. Failures are logged;
// the original error is what the caller needs.
func (l *Library) releaseCopy(ctx context.Context, copyID string) {
	if err := l.freeCopy(ctx, copyID); err != nil {
		l.logger.Error("release claimed copy", "copyId", copyID, "error", err)
	}
}

func (l *Library) dropActiveLoan(ctx context.Context, userID string) {
	if err := l.decrementLoans(ctx, userID); err != nil {
		l.logger.Error("undo loan count", "userId", userID, "error", err)
	}
}
