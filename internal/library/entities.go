package library

import (
	"strings"
	"time"

	"github.com/jacentio/bibliodigit/store"
)

// Record kinds.
const (
	KindAuthor   = "author"
	KindCategory = "category"
	KindBook     = "book"
	KindUserType = "user_type"
	KindUser     = "user"
	KindCopy     = "copy"
	KindLoan     = "loan"
)

// Registry returns the relationships between the library's record kinds.
func Registry() *store.Registry {
	r := store.NewRegistry()
	for _, rel := range []store.Relationship{
		{ParentKind: KindAuthor, ChildKind: KindBook, OnDelete: store.Restrict},
		{ParentKind: KindCategory, ChildKind: KindBook, OnDelete: store.Restrict},
		{ParentKind: KindUserType, ChildKind: KindUser, OnDelete: store.Restrict},
		{ParentKind: KindBook, ChildKind: KindCopy, OnDelete: store.Cascade},
		{ParentKind: KindBook, ChildKind: KindLoan, OnDelete: store.Restrict},
		{ParentKind: KindUser, ChildKind: KindLoan, OnDelete: store.Restrict},
		{ParentKind: KindCopy, ChildKind: KindLoan, OnDelete: store.Restrict},
	} {
		r.Register(rel)
	}
	return r
}

type Author struct {
	store.Meta
	Name        string `json:"name" validate:"notblank,max=255"`
	Nationality string `json:"nationality" validate:"notblank,max=255"`
}

func (*Author) Kind() string { return KindAuthor }

func (a *Author) UniqueFields() map[string]string {
	return map[string]string{"name": a.Name}
}

type Category struct {
	store.Meta
	Name        string `json:"name" validate:"notblank,max=100"`
	Description string `json:"description" validate:"notblank,max=500"`
}

func (*Category) Kind() string { return KindCategory }

func (c *Category) UniqueFields() map[string]string {
	return map[string]string{"name": c.Name}
}

// Book is a catalog title. Its copies are the loanable items.
type Book struct {
	store.Meta
	Title      string `json:"title" validate:"notblank,max=255"`
	Year       int    `json:"year" validate:"gte=1000,lte=9999"`
	AuthorID   string `json:"authorId" validate:"required"`
	CategoryID string `json:"categoryId" validate:"required"`
}

func (*Book) Kind() string { return KindBook }

func (b *Book) Parents() []store.Ref {
	return []store.Ref{
		store.NewRef(KindAuthor, b.AuthorID),
		store.NewRef(KindCategory, b.CategoryID),
	}
}

func (b *Book) UniqueFields() map[string]string {
	return map[string]string{"title": b.Title}
}

// UserType is a role. Type is kept upper-cased.
type UserType struct {
	store.Meta
	Type        string `json:"type" validate:"notblank,min=2,max=50"`
	Description string `json:"description" validate:"max=255"`
}

func (*UserType) Kind() string { return KindUserType }

func (t *UserType) UniqueFields() map[string]string {
	return map[string]string{"type": t.Type}
}

// NormalizeType returns the stored form of a user type name.
func NormalizeType(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

type User struct {
	store.Meta
	Name          string     `json:"name" validate:"notblank,max=255"`
	Email         string     `json:"email" validate:"required,email,max=255"`
	PasswordHash  string     `json:"passwordHash" validate:"required"`
	TypeID        string     `json:"typeId" validate:"required"`
	Active        bool       `json:"active"`
	TokenHash     string     `json:"tokenHash,omitempty"`
	TokenIssuedAt *time.Time `json:"tokenIssuedAt,omitempty"`
	ActiveLoans   int        `json:"activeLoans" validate:"gte=0"`
}

func (*User) Kind() string { return KindUser }

func (u *User) Parents() []store.Ref {
	return []store.Ref{store.NewRef(KindUserType, u.TypeID)}
}

func (u *User) UniqueFields() map[string]string {
	return map[string]string{"email": u.Email, "tokenHash": u.TokenHash}
}

// NormalizeEmail returns the stored form of an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Copy is one physical, loanable item of a book.
type Copy struct {
	store.Meta
	BookID    string `json:"bookId" validate:"required"`
	Available bool   `json:"available"`
}

func (*Copy) Kind() string { return KindCopy }

func (c *Copy) Parents() []store.Ref {
	return []store.Ref{store.NewRef(KindBook, c.BookID)}
}

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanReturned LoanStatus = "RETURNED"
	LoanOverdue  LoanStatus = "OVERDUE" // returned late
)

type Loan struct {
	store.Meta
	BookID     string     `json:"bookId" validate:"required"`
	CopyID     string     `json:"copyId" validate:"required"`
	UserID     string     `json:"userId" validate:"required"`
	Status     LoanStatus `json:"status" validate:"oneof=ACTIVE RETURNED OVERDUE"`
	BorrowedAt time.Time  `json:"borrowedAt"`
	DueAt      time.Time  `json:"dueAt"`
	ReturnedAt *time.Time `json:"returnedAt,omitempty"`
	FineCents  int64      `json:"fineCents" validate:"gte=0"`
}

func (*Loan) Kind() string { return KindLoan }

// Parents links an active loan to its user, copy and book so none of them
// can be deleted while it is out.
func (l *Loan) Parents() []store.Ref {
	if l.Status != LoanActive {
		return nil
	}
	return []store.Ref{
		store.NewRef(KindUser, l.UserID),
		store.NewRef(KindCopy, l.CopyID),
		store.NewRef(KindBook, l.BookID),
	}
}

// DaysOverdue returns the whole days between the due date and the return
// time, or at for a loan still out.
func (l *Loan) DaysOverdue(at time.Time) int64 {
	if l.ReturnedAt != nil {
		at = *l.ReturnedAt
	}
	if !at.After(l.DueAt) {
		return 0
	}
	return int64(at.Sub(l.DueAt) / (24 * time.Hour))
}
