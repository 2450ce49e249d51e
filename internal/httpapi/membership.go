package httpapi

import (
	"net/http"

	"github.com/jacentio/bibliodigit/internal/library"
)

// --- Auth ---

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req library.NewUser
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.lib.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/users/"+session.User.ID)
	writeJSON(w, http.StatusCreated, toSession(session))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.lib.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSession(session))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.Logout(r.Context(), bearerToken(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- User types ---

func (s *Server) listUserTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.lib.UserTypes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(types, toUserType))
}

func (s *Server) getUserType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.lib.UserType(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, t.Version, toUserType(t))
}

func (s *Server) userTypeByName(w http.ResponseWriter, r *http.Request) {
	name, err := pathID(r, "type")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.lib.UserTypeByName(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, t.Version, toUserType(t))
}

func (s *Server) userTypeExists(w http.ResponseWriter, r *http.Request) {
	var name string
	if err := queryParam(r, "type", true, &name); err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.lib.UserTypeExists(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

func (s *Server) createUserType(w http.ResponseWriter, r *http.Request) {
	var req userTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t := &library.UserType{Type: req.Type, Description: req.Description}
	if err := s.lib.CreateUserType(r.Context(), t); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/type-users/"+t.ID)
	writeResource(w, http.StatusCreated, t.Version, toUserType(t))
}

func (s *Server) updateUserType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req userTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	version, err := expectedVersion(r, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t := &library.UserType{Type: req.Type, Description: req.Description}
	t.ID = id
	if err := s.lib.UpdateUserType(r.Context(), t, version); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, t.Version, toUserType(t))
}

func (s *Server) deleteUserType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.lib.DeleteUserType(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Users ---

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u := principal(r.Context()).User
	writeResource(w, http.StatusOK, u.Version, toUser(u))
}

// updateMe lets a caller change their own name, email and password. The
// account type and status stay as they are.
func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	current := principal(r.Context()).User
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	version, err := expectedVersion(r, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.lib.UpdateUser(r.Context(), current.ID, library.UserUpdate{
		Name:     req.Name,
		Email:    req.Email,
		TypeID:   current.TypeID,
		Password: req.Password,
		Version:  version,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, u.Version, toUser(u))
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	var active *bool
	if err := queryParam(r, "active", false, &active); err != nil {
		s.writeError(w, r, err)
		return
	}
	var (
		users []*library.User
		err   error
	)
	if active != nil {
		users, err = s.lib.UsersByActive(r.Context(), *active)
	} else {
		users, err = s.lib.Users(r.Context())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(users, toUser))
}

func (s *Server) usersByType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "typeId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	users, err := s.lib.UsersByType(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mapAll(users, toUser))
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.lib.User(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, u.Version, toUser(u))
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in := library.NewUser{Name: req.Name, Email: req.Email, TypeID: req.TypeID}
	if req.Password != nil {
		in.Password = *req.Password
	}
	u, err := s.lib.CreateUser(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Active != nil && !*req.Active {
		if u, err = s.lib.ToggleUserActive(r.Context(), u.ID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	w.Header().Set("Location", "/api/users/"+u.ID)
	writeResource(w, http.StatusCreated, u.Version, toUser(u))
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	version, err := expectedVersion(r, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.lib.UpdateUser(r.Context(), id, library.UserUpdate{
		Name:     req.Name,
		Email:    req.Email,
		TypeID:   req.TypeID,
		Password: req.Password,
		Active:   req.Active,
		Version:  version,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, u.Version, toUser(u))
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.lib.DeleteUser(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.lib.ToggleUserActive(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResource(w, http.StatusOK, u.Version, toUser(u))
}
