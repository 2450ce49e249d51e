// Package httpapi exposes the library over HTTP/JSON.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jacentio/bibliodigit/internal/library"
)

// Version is reported by /api/hello.
const Version = "1.0.2"

// Server holds the handlers' dependencies.
type Server struct {
	lib    *library.Library
	logger *slog.Logger
}

// NewHandler returns the API router.
func NewHandler(lib *library.Library, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{lib: lib, logger: logger}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Use(middleware.StripSlashes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/hello", s.hello)
		r.Get("/health", s.health)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.With(s.requireAuth).Post("/logout", s.logout)
		})

		r.Route("/books", func(r chi.Router) {
			r.Get("/", s.listBooks)
			r.Get("/search/title", s.booksByTitle)
			r.Get("/search/author", s.booksByAuthorName)
			r.Get("/search/category", s.booksByCategoryName)
			r.Get("/author/{authorId}", s.booksByAuthor)
			r.Get("/category/{categoryId}", s.booksByCategory)
			r.Get("/year/{year}", s.booksByYear)
			r.Get("/year-range", s.booksByYearRange)
			r.Get("/count/author/{authorId}", s.countBooksByAuthor)
			r.Get("/count/category/{categoryId}", s.countBooksByCategory)
			r.Get("/exists", s.bookExists)
			r.Get("/{id}", s.getBook)
			r.Get("/{id}/copies", s.listCopies)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/", s.createBook)
				r.Put("/{id}", s.updateBook)
				r.Delete("/{id}", s.deleteBook)
				r.Post("/{id}/copies", s.addCopies)
			})
		})

		r.Route("/author", func(r chi.Router) {
			r.Get("/", s.listAuthors)
			r.Get("/search", s.authorsByNationality)
			r.Get("/with-books", s.authorsWithBooks)
			r.Get("/{id}", s.getAuthor)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/", s.createAuthor)
				r.Put("/{id}", s.updateAuthor)
				r.Delete("/{id}", s.deleteAuthor)
			})
		})

		r.Route("/category", func(r chi.Router) {
			r.Get("/", s.listCategories)
			r.Get("/search", s.categoriesByName)
			r.Get("/{id}", s.getCategory)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/", s.createCategory)
				r.Put("/{id}", s.updateCategory)
				r.Delete("/{id}", s.deleteCategory)
			})
		})

		r.Route("/type-users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/", s.listUserTypes)
				r.Get("/type/{type}", s.userTypeByName)
				r.Get("/{id}", s.getUserType)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/exists", s.userTypeExists)
				r.Post("/", s.createUserType)
				r.Put("/{id}", s.updateUserType)
				r.Delete("/{id}", s.deleteUserType)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.With(s.requireAuth).Get("/me", s.me)
			r.With(s.requireAuth).Put("/me", s.updateMe)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/", s.listUsers)
				r.Post("/", s.createUser)
				r.Get("/type/{typeId}", s.usersByType)
				r.Get("/{id}", s.getUser)
				r.Put("/{id}", s.updateUser)
				r.Delete("/{id}", s.deleteUser)
				r.Patch("/{id}/toggle-status", s.toggleUser)
			})
		})

		r.Route("/loans", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/", s.borrow)
			r.With(s.requireAdmin).Get("/overdue", s.overdueLoans)
			r.Get("/user/{userId}/active", s.activeLoans)
			r.Get("/user/{userId}/history", s.loanHistory)
			r.Get("/user/{userId}/can-borrow", s.canBorrow)
			r.Get("/{id}", s.getLoan)
			r.Get("/{id}/fine", s.loanFine)
			r.Put("/{id}/return", s.returnLoan)
		})
	})
	return r
}

func (s *Server) hello(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to bibliodigit",
		"version": Version,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}
