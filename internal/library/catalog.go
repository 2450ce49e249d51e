package library

import (
	"context"
	"strings"

	"github.com/jacentio/bibliodigit/internal/validation"
	"github.com/jacentio/bibliodigit/store"
)

// --- Books ---

// CreateBook stores b. Its author and category must exist.
func (l *Library) CreateBook(ctx context.Context, b *Book) error {
	b.Title = strings.TrimSpace(b.Title)
	if err := l.books.Create(ctx, b); err != nil {
		return err
	}
	l.logger.Info("book created", "id", b.ID, "title", b.Title)
	return nil
}

func (l *Library) Book(ctx context.Context, id string) (*Book, error) {
	return l.books.Get(ctx, id)
}

// UpdateBook replaces the book with b.ID. version is the version the caller
// read; zero skips the check.
func (l *Library) UpdateBook(ctx context.Context, b *Book, version int64) error {
	b.Title = strings.TrimSpace(b.Title)
	return updateAt(ctx, l.books, b, version)
}

// DeleteBook removes the book and its copies. It fails with
// store.ErrHasChildren while a copy is on loan.
func (l *Library) DeleteBook(ctx context.Context, id string) error {
	if err := l.books.Delete(ctx, id); err != nil {
		return err
	}
	l.logger.Info("book deleted", "id", id)
	return nil
}

func (l *Library) Books(ctx context.Context) ([]*Book, error) {
	return l.books.Find(ctx, store.Query{OrderBy: "title"})
}

// BooksByTitle returns books whose title contains keyword, ignoring case.
func (l *Library) BooksByTitle(ctx context.Context, keyword string) ([]*Book, error) {
	return l.books.Find(ctx, store.Query{
		Filters: []store.Filter{store.Contains("title", strings.TrimSpace(keyword))},
		OrderBy: "title",
	})
}

func (l *Library) BooksByAuthor(ctx context.Context, authorID string) ([]*Book, error) {
	return l.books.Find(ctx, store.Query{
		Parent:  store.NewRef(KindAuthor, authorID),
		OrderBy: "title",
	})
}

// BooksByAuthorName returns the books of every author whose name contains
// name, ignoring case.
func (l *Library) BooksByAuthorName(ctx context.Context, name string) ([]*Book, error) {
	authors, err := l.authors.Where(ctx, store.Contains("name", strings.TrimSpace(name)))
	if err != nil {
		return nil, err
	}
	var out []*Book
	for _, a := range authors {
		books, err := l.BooksByAuthor(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, books...)
	}
	return out, nil
}

func (l *Library) BooksByCategory(ctx context.Context, categoryID string) ([]*Book, error) {
	return l.books.Find(ctx, store.Query{
		Parent:  store.NewRef(KindCategory, categoryID),
		OrderBy: "title",
	})
}

// BooksByCategoryName returns the books filed under the category called
// name, ignoring case.
func (l *Library) BooksByCategoryName(ctx context.Context, name string) ([]*Book, error) {
	name = strings.TrimSpace(name)
	categories, err := l.categories.Where(ctx, store.Contains("name", name))
	if err != nil {
		return nil, err
	}
	var out []*Book
	for _, c := range categories {
		if !strings.EqualFold(c.Name, name) {
			continue
		}
		books, err := l.BooksByCategory(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, books...)
	}
	return out, nil
}

func (l *Library) BooksByYear(ctx context.Context, year int) ([]*Book, error) {
	return l.books.Find(ctx, store.Query{
		Filters: []store.Filter{store.Eq("year", year)},
		OrderBy: "title",
	})
}

// YearRange is an inclusive span of publication years.
type YearRange struct {
	Start int `json:"start" validate:"gte=0"`
	End   int `json:"end" validate:"gte=0"`
}

func (r YearRange) Check() error {
	if r.Start > r.End {
		return validation.New("start", "must not be after end")
	}
	return nil
}

// BooksByYearRange returns books published from start to end inclusive.
func (l *Library) BooksByYearRange(ctx context.Context, start, end int) ([]*Book, error) {
	span := YearRange{Start: start, End: end}
	if err := validation.Struct(span); err != nil {
		return nil, err
	}
	return l.books.Find(ctx, store.Query{
		Filters: []store.Filter{store.Between("year", span.Start, span.End)},
		OrderBy: "year",
	})
}

func (l *Library) CountBooksByAuthor(ctx context.Context, authorID string) (int, error) {
	return l.books.Count(ctx, store.Query{Parent: store.NewRef(KindAuthor, authorID)})
}

func (l *Library) CountBooksByCategory(ctx context.Context, categoryID string) (int, error) {
	return l.books.Count(ctx, store.Query{Parent: store.NewRef(KindCategory, categoryID)})
}

// BookExists reports whether the author has a book with exactly this title.
func (l *Library) BookExists(ctx context.Context, title, authorID string) (bool, error) {
	return l.books.Exists(ctx, store.Query{Filters: []store.Filter{
		store.Eq("title", strings.TrimSpace(title)),
		store.Eq("authorId", authorID),
	}})
}

// --- Authors ---

func (l *Library) CreateAuthor(ctx context.Context, a *Author) error {
	a.Name = strings.TrimSpace(a.Name)
	if err := l.authors.Create(ctx, a); err != nil {
		return err
	}
	l.logger.Info("author created", "id", a.ID, "name", a.Name)
	return nil
}

func (l *Library) Author(ctx context.Context, id string) (*Author, error) {
	return l.authors.Get(ctx, id)
}

func (l *Library) UpdateAuthor(ctx context.Context, a *Author, version int64) error {
	a.Name = strings.TrimSpace(a.Name)
	return updateAt(ctx, l.authors, a, version)
}

// DeleteAuthor fails with store.ErrHasChildren while the author has books.
func (l *Library) DeleteAuthor(ctx context.Context, id string) error {
	return l.authors.Delete(ctx, id)
}

func (l *Library) Authors(ctx context.Context) ([]*Author, error) {
	return l.authors.Find(ctx, store.Query{OrderBy: "name"})
}

func (l *Library) AuthorsByNationality(ctx context.Context, nationality string) ([]*Author, error) {
	return l.authors.Find(ctx, store.Query{
		Filters: []store.Filter{store.Contains("nationality", strings.TrimSpace(nationality))},
		OrderBy: "name",
	})
}

// AuthorWithBooks pairs an author with their books.
type AuthorWithBooks struct {
	Author *Author
	Books  []*Book
}

// AuthorsWithBooks returns the authors that have at least one book.
func (l *Library) AuthorsWithBooks(ctx context.Context) ([]AuthorWithBooks, error) {
	books, err := l.books.Find(ctx, store.Query{OrderBy: "title"})
	if err != nil {
		return nil, err
	}
	byAuthor := make(map[string][]*Book)
	for _, b := range books {
		byAuthor[b.AuthorID] = append(byAuthor[b.AuthorID], b)
	}

	authors, err := l.Authors(ctx)
	if err != nil {
		return nil, err
	}
	var out []AuthorWithBooks
	for _, a := range authors {
		if bs := byAuthor[a.ID]; len(bs) > 0 {
			out = append(out, AuthorWithBooks{Author: a, Books: bs})
		}
	}
	return out, nil
}

// --- Categories ---

func (l *Library) CreateCategory(ctx context.Context, c *Category) error {
	c.Name = strings.TrimSpace(c.Name)
	if err := l.categories.Create(ctx, c); err != nil {
		return err
	}
	l.logger.Info("category created", "id", c.ID, "name", c.Name)
	return nil
}

func (l *Library) Category(ctx context.Context, id string) (*Category, error) {
	return l.categories.Get(ctx, id)
}

func (l *Library) UpdateCategory(ctx context.Context, c *Category, version int64) error {
	c.Name = strings.TrimSpace(c.Name)
	return updateAt(ctx, l.categories, c, version)
}

// DeleteCategory fails with store.ErrHasChildren while books are filed
// under the category.
func (l *Library) DeleteCategory(ctx context.Context, id string) error {
	return l.categories.Delete(ctx, id)
}

func (l *Library) Categories(ctx context.Context) ([]*Category, error) {
	return l.categories.Find(ctx, store.Query{OrderBy: "name"})
}

func (l *Library) CategoriesByName(ctx context.Context, keyword string) ([]*Category, error) {
	return l.categories.Find(ctx, store.Query{
		Filters: []store.Filter{store.Contains("name", strings.TrimSpace(keyword))},
		OrderBy: "name",
	})
}
