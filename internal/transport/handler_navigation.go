package transport

import (
	"net/http"

	"github.com/pitabwire/fedipanel/model"
)

func handleNavigation(menu MenuService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		nav, err := menu.GetNavigation(r.Context(), rctx.Session)
		if err != nil {
			fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, nav)
	}
}

func handleRoutes(menu MenuService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		routes, err := menu.GetRoutes(r.Context(), rctx.Session)
		if err != nil {
			fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"routes": routes})
	}
}

func handleResolve(menu MenuService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		path := r.URL.Query().Get("path")
		if path == "" {
			fail(w, r, model.NewBadRequestError("query parameter \"path\" is required"))
			return
		}
		match, err := menu.Resolve(r.Context(), rctx.Session, path)
		if err != nil {
			fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, match)
	}
}
