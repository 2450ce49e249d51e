package httpapi

import (
	"net/http"

	"github.com/jacentio/bibliodigit/internal/library"
)

// --- Books ---

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.lib.Books(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(books, toBook))
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.lib.Book(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, b.Version, toBook(b))
}

func (s *Server) createBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b := req.book()
	if err := s.lib.CreateBook(r.Context(), b); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/books/"+b.ID)
	writeResource(w, http.StatusCreated, b.Version, toBook(b))
}

func (s *Server) updateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	version, err := expectedVersion(r, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b := req.book()
	b.ID = id
	if err := s.lib.UpdateBook(r.Context(), b, version); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, b.Version, toBook(b))
}

func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.lib.DeleteBook(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) booksByTitle(w http.ResponseWriter, r *http.Request) {
	var keyword string
	if err := queryParam(r, "keyword", true, &keyword); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBooks(w, r)(s.lib.BooksByTitle(r.Context(), keyword))
}

func (s *Server) booksByAuthorName(w http.ResponseWriter, r *http.Request) {
	var name string
	if err := queryParam(r, "name", true, &name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBooks(w, r)(s.lib.BooksByAuthorName(r.Context(), name))
}

func (s *Server) booksByCategoryName(w http.ResponseWriter, r *http.Request) {
	var name string
	if err := queryParam(r, "name", true, &name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBooks(w, r)(s.lib.BooksByCategoryName(r.Context(), name))
}

func (s *Server) booksByAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "authorId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBooks(w, r)(s.lib.BooksByAuthor(r.Context(), id))
}

func (s *Server) booksByCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "categoryId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBooks(w, r)(s.lib.BooksByCategory(r.Context(), id))
}

func (s *Server) booksByYear(w http.ResponseWriter, r *http.Request) {
	var year int
	if err := pathParam(r, "year", &year); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBooks(w, r)(s.lib.BooksByYear(r.Context(), year))
}

func (s *Server) booksByYearRange(w http.ResponseWriter, r *http.Request) {
	var start, end int
	if err := queryParam(r, "start", true, &start); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := queryParam(r, "end", true, &end); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBooks(w, r)(s.lib.BooksByYearRange(r.Context(), start, end))
}

func (s *Server) countBooksByAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "authorId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.lib.CountBooksByAuthor(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) countBooksByCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "categoryId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.lib.CountBooksByCategory(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) bookExists(w http.ResponseWriter, r *http.Request) {
	var title, authorID string
	if err := queryParam(r, "title", true, &title); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := queryParam(r, "authorId", true, &authorID); err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.lib.BookExists(r.Context(), title, authorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

// writeBooks adapts a library result to a list response.
func (s *Server) writeBooks(w http.ResponseWriter, r *http.Request) func([]*library.Book, error) {
	return func(books []*library.Book, err error) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeList(w, mapAll(books, toBook))
	}
}

// --- Copies ---

func (s *Server) listCopies(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.lib.Book(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	copies, err := s.lib.Copies(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(copies, toCopy))
}

func (s *Server) addCopies(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req := copiesRequest{Count: 1}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	copies, err := s.lib.AddCopies(r.Context(), id, req.Count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapAll(copies, toCopy))
}

// --- Authors ---

func (s *Server) listAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := s.lib.Authors(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(authors, toAuthor))
}

func (s *Server) authorsByNationality(w http.ResponseWriter, r *http.Request) {
	var nationality string
	if err := queryParam(r, "nationality", true, &nationality); err != nil {
		s.writeError(w, r, err)
		return
	}
	authors, err := s.lib.AuthorsByNationality(r.Context(), nationality)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(authors, toAuthor))
}

func (s *Server) authorsWithBooks(w http.ResponseWriter, r *http.Request) {
	found, err := s.lib.AuthorsWithBooks(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(found, func(a library.AuthorWithBooks) authorWithBooksDTO {
		return authorWithBooksDTO{authorDTO: toAuthor(a.Author), Books: mapAll(a.Books, toBook)}
	}))
}

func (s *Server) getAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.lib.Author(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, a.Version, toAuthor(a))
}

func (s *Server) createAuthor(w http.ResponseWriter, r *http.Request) {
	var req authorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a := &library.Author{Name: req.Name, Nationality: req.Nationality}
	if err := s.lib.CreateAuthor(r.Context(), a); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/author/"+a.ID)
	writeResource(w, http.StatusCreated, a.Version, toAuthor(a))
}

func (s *Server) updateAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req authorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	version, err := expectedVersion(r, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a := &library.Author{Name: req.Name, Nationality: req.Nationality}
	a.ID = id
	if err := s.lib.UpdateAuthor(r.Context(), a, version); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, a.Version, toAuthor(a))
}

func (s *Server) deleteAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.lib.DeleteAuthor(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Categories ---

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.lib.Categories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(categories, toCategory))
}

func (s *Server) categoriesByName(w http.ResponseWriter, r *http.Request) {
	var name string
	if err := queryParam(r, "name", true, &name); err != nil {
		s.writeError(w, r, err)
		return
	}
	categories, err := s.lib.CategoriesByName(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(categories, toCategory))
}

func (s *Server) getCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.lib.Category(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, c.Version, toCategory(c))
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c := &library.Category{Name: req.Name, Description: req.Description}
	if err := s.lib.CreateCategory(r.Context(), c); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/category/"+c.ID)
	writeResource(w, http.StatusCreated, c.Version, toCategory(c))
}

func (s *Server) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	version, err := expectedVersion(r, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c := &library.Category{Name: req.Name, Description: req.Description}
	c.ID = id
	if err := s.lib.UpdateCategory(r.Context(), c, version); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, c.Version, toCategory(c))
}

func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.lib.DeleteCategory(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
