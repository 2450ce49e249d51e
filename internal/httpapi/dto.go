package httpapi

import (
	"time"

	"github.com/jacentio/bibliodigit/internal/library"
	"github.com/jacentio/bibliodigit/store"
)

type metaDTO struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func metaOf(e store.Entity) metaDTO {
	m := e.Metadata()
	return metaDTO{ID: m.ID, Version: m.Version, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

func mapAll[E any, D any](items []E, fn func(E) D) []D {
	out := make([]D, len(items))
	for i, e := range items {
		out[i] = fn(e)
	}
	return out
}

// --- Catalog ---

type bookRequest struct {
	Title      string `json:"title"`
	Year       int    `json:"year"`
	AuthorID   string `json:"authorId"`
	CategoryID string `json:"categoryId"`
	Version    int64  `json:"version"`
}

func (b bookRequest) book() *library.Book {
	return &library.Book{Title: b.Title, Year: b.Year, AuthorID: b.AuthorID, CategoryID: b.CategoryID}
}

type bookDTO struct {
	metaDTO
	Title      string `json:"title"`
	Year       int    `json:"year"`
	AuthorID   string `json:"authorId"`
	CategoryID string `json:"categoryId"`
}

func toBook(b *library.Book) bookDTO {
	return bookDTO{metaDTO: metaOf(b), Title: b.Title, Year: b.Year, AuthorID: b.AuthorID, CategoryID: b.CategoryID}
}

type authorRequest struct {
	Name        string `json:"name"`
	Nationality string `json:"nationality"`
	Version     int64  `json:"version"`
}

type authorDTO struct {
	metaDTO
	Name        string `json:"name"`
	Nationality string `json:"nationality"`
}

func toAuthor(a *library.Author) authorDTO {
	return authorDTO{metaDTO: metaOf(a), Name: a.Name, Nationality: a.Nationality}
}

type authorWithBooksDTO struct {
	authorDTO
	Books []bookDTO `json:"books"`
}

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     int64  `json:"version"`
}

type categoryDTO struct {
	metaDTO
	Name        string `json:"name"`
	Description string `json:"description"`
}

func toCategory(c *library.Category) categoryDTO {
	return categoryDTO{metaDTO: metaOf(c), Name: c.Name, Description: c.Description}
}

type copiesRequest struct {
	Count int `json:"count"`
}

type copyDTO struct {
	metaDTO
	BookID    string `json:"bookId"`
	Available bool   `json:"available"`
}

func toCopy(c *library.Copy) copyDTO {
	return copyDTO{metaDTO: metaOf(c), BookID: c.BookID, Available: c.Available}
}

// --- Membership ---

type userTypeRequest struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Version     int64  `json:"version"`
}

type userTypeDTO struct {
	metaDTO
	Type        string `json:"type"`
	Description string `json:"description"`
}

func toUserType(t *library.UserType) userTypeDTO {
	return userTypeDTO{metaDTO: metaOf(t), Type: t.Type, Description: t.Description}
}

type userRequest struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Password *string `json:"password"`
	TypeID   string  `json:"typeId"`
	Active   *bool   `json:"active"`
	Version  int64   `json:"version"`
}

type userDTO struct {
	metaDTO
	Name        string `json:"name"`
	Email       string `json:"email"`
	TypeID      string `json:"typeId"`
	Active      bool   `json:"active"`
	ActiveLoans int    `json:"activeLoans"`
}

func toUser(u *library.User) userDTO {
	return userDTO{
		metaDTO:     metaOf(u),
		Name:        u.Name,
		Email:       u.Email,
		TypeID:      u.TypeID,
		Active:      u.Active,
		ActiveLoans: u.ActiveLoans,
	}
}

// --- Auth ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionDTO struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
	Role      string    `json:"role"`
	User      userDTO   `json:"user"`
}

func toSession(s *library.Session) sessionDTO {
	return sessionDTO{
		Token:     s.Token,
		TokenType: "Bearer",
		ExpiresAt: s.ExpiresAt,
		Role:      s.Type.Type,
		User:      toUser(s.User),
	}
}

// --- Loans ---

type loanRequest struct {
	UserID string `json:"userId" validate:"required"`
	BookID string `json:"bookId" validate:"required"`
}

type loanDTO struct {
	metaDTO
	BookID     string             `json:"bookId"`
	CopyID     string             `json:"copyId"`
	UserID     string             `json:"userId"`
	Status     library.LoanStatus `json:"status"`
	BorrowedAt time.Time          `json:"borrowedAt"`
	DueAt      time.Time          `json:"dueAt"`
	ReturnedAt *time.Time         `json:"returnedAt,omitempty"`
	FineCents  int64              `json:"fineCents"`
}

func toLoan(l *library.Loan) loanDTO {
	return loanDTO{
		metaDTO:    metaOf(l),
		BookID:     l.BookID,
		CopyID:     l.CopyID,
		UserID:     l.UserID,
		Status:     l.Status,
		BorrowedAt: l.BorrowedAt,
		DueAt:      l.DueAt,
		ReturnedAt: l.ReturnedAt,
		FineCents:  l.FineCents,
	}
}
