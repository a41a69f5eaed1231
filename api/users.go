package api

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/stevecastle/dicomalbum/auth"
	"github.com/stevecastle/dicomalbum/renderer"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func registerHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c credentials
		if err := readJSONBody(r, &c); err != nil {
			renderer.WriteError(w, http.StatusBadRequest, "bad json")
			return
		}
		u, err := deps.Auth.Register(r.Context(), c.Username, c.Password)
		switch {
		case errors.Is(err, auth.ErrUserExists):
			renderer.WriteError(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, auth.ErrInvalidCreds):
			renderer.WriteError(w, http.StatusBadRequest, "Username and password are required")
			return
		case err != nil:
			deps.Log.Error().Err(err).Msg("registration failed")
			renderer.WriteError(w, http.StatusInternalServerError, "Registration failed")
			return
		}
		renderer.WriteJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"user":    u,
		})
	}
}

func loginHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c credentials
		if err := readJSONBody(r, &c); err != nil {
			renderer.WriteError(w, http.StatusBadRequest, "bad json")
			return
		}
		token, err := deps.Auth.Login(r.Context(), c.Username, c.Password)
		if errors.Is(err, auth.ErrInvalidCreds) {
			renderer.WriteError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		if err != nil {
			deps.Log.Error().Err(err).Msg("login failed")
			renderer.WriteError(w, http.StatusInternalServerError, "Login failed")
			return
		}
		renderer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"token":   token,
		})
	}
}
