package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

// createRequest mirrors the add form. The url rule plays the role of the
// browser's type="url" hint.
type createRequest struct {
	Title string `json:"title" validate:"required"`
	URL   string `json:"url" validate:"required,url"`
}

// Me returns the navbar profile of the caller.
func Me(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, domain.ProfileOf(mw.SessionFrom(r.Context())))
	}
}

func ListBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := mw.SessionFrom(r.Context())
		ctx, cancel := remoteCtx(r.Context(), d)
		defer cancel()

		rows, err := mw.ClientFrom(r.Context()).ListBookmarks(ctx, s.UserID)
		if err != nil {
			d.Logger.Warn("list bookmarks failed", logger.String("user", s.UserID), logger.Error(err))
			writeError(w, remoteStatus(err), "could not load bookmarks")
			return
		}
		domain.SortNewestFirst(rows)
		writeJSON(w, http.StatusOK, rows)
	}
}

func CreateBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := mw.SessionFrom(r.Context())

		var req createRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		nb, err := domain.NewBookmark{Title: req.Title, URL: req.URL, Owner: s.UserID}.Normalize()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Title, req.URL = nb.Title, nb.URL
		if err := d.Validate.Struct(req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid bookmark", Fields: fieldErrors(err)})
			return
		}

		ctx, cancel := remoteCtx(r.Context(), d)
		defer cancel()
		if err := mw.ClientFrom(r.Context()).InsertBookmark(ctx, nb); err != nil {
			d.Logger.Warn("create bookmark failed", logger.String("user", s.UserID), logger.Error(err))
			writeError(w, remoteStatus(err), "could not save bookmark")
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func DeleteBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := mw.SessionFrom(r.Context())
		id := chi.URLParam(r, "id")

		ctx, cancel := remoteCtx(r.Context(), d)
		defer cancel()
		if err := mw.ClientFrom(r.Context()).DeleteBookmark(ctx, id, s.UserID); err != nil {
			d.Logger.Warn("delete bookmark failed",
				logger.String("user", s.UserID),
				logger.String("id", id),
				logger.Error(err))
			writeError(w, remoteStatus(err), "could not delete bookmark")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
