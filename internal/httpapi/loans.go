package httpapi

import (
	"net/http"

	"github.com/jacentio/bibliodigit/internal/library"
	"github.com/jacentio/bibliodigit/internal/validation"
)

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := allowSelf(r.Context(), req.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.lib.Borrow(r.Context(), req.UserID, req.BookID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/loans/"+loan.ID)
	writeResource(w, http.StatusCreated, loan.Version, toLoan(loan))
}

// ownLoan loads the loan named by the path and checks the caller may see it.
func (s *Server) ownLoan(r *http.Request) (*library.Loan, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	loan, err := s.lib.Loan(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := allowSelf(r.Context(), loan.UserID); err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.ownLoan(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, loan.Version, toLoan(loan))
}

func (s *Server) returnLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.ownLoan(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if loan, err = s.lib.Return(r.Context(), loan.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, loan.Version, toLoan(loan))
}

func (s *Server) loanFine(w http.ResponseWriter, r *http.Request) {
	loan, err := s.ownLoan(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fine, err := s.lib.Fine(r.Context(), loan.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loanId": loan.ID, "fineCents": fine})
}

func (s *Server) overdueLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := s.lib.Overdue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(loans, toLoan))
}

// userLoans serves the per-user listings, restricted to the user themself
// and administrators.
func (s *Server) userLoans(list func(*library.Library, *http.Request, string) ([]*library.Loan, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r, "userId")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := allowSelf(r.Context(), userID); err != nil {
			s.writeError(w, r, err)
			return
		}
		loans, err := list(s.lib, r, userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeList(w, mapAll(loans, toLoan))
	}
}

func (s *Server) activeLoans(w http.ResponseWriter, r *http.Request) {
	s.userLoans(func(l *library.Library, r *http.Request, id string) ([]*library.Loan, error) {
		return l.ActiveLoans(r.Context(), id)
	})(w, r)
}

func (s *Server) loanHistory(w http.ResponseWriter, r *http.Request) {
	s.userLoans(func(l *library.Library, r *http.Request, id string) ([]*library.Loan, error) {
		return l.LoanHistory(r.Context(), id)
	})(w, r)
}

func (s *Server) canBorrow(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := allowSelf(r.Context(), userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.lib.CanBorrow(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "canBorrow": ok})
}
