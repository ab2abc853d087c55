package httpapi

import "net/http"

type pageCreateRequest struct {
	Handle string `json:"handle"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
}

func (s *Server) createPage(w http.ResponseWriter, r *http.Request) {
	var req pageCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	page, err := s.pages.Create(r.Context(), currentUser(r), req.Handle, req.Name, req.Kind)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	view, err := s.pages.Get(r.Context(), currentUser(r), r.PathValue("handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type pageRenameRequest struct {
	Name string `json:"name"`
}

func (s *Server) renamePage(w http.ResponseWriter, r *http.Request) {
	var req pageRenameRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	page, err := s.pages.Rename(r.Context(), currentUser(r), r.PathValue("handle"), req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) followPage(w http.ResponseWriter, r *http.Request) {
	if err := s.pages.Follow(r.Context(), currentUser(r), r.PathValue("handle")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"following": true})
}

func (s *Server) unfollowPage(w http.ResponseWriter, r *http.Request) {
	if err := s.pages.Unfollow(r.Context(), currentUser(r), r.PathValue("handle")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"following": false})
}

type editorInviteRequest struct {
	Handle string `json:"handle"`
}

func (s *Server) invitePageEditor(w http.ResponseWriter, r *http.Request) {
	var req editorInviteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	if err := s.pages.InviteEditor(r.Context(), currentUser(r), r.PathValue("handle"), req.Handle); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"invited": true})
}

func (s *Server) acceptPageEditorInvite(w http.ResponseWriter, r *http.Request) {
	if err := s.pages.AcceptEditorInvite(r.Context(), currentUser(r), r.PathValue("handle")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *Server) listPageFacts(w http.ResponseWriter, r *http.Request) {
	views, err := s.facts.ListAboutPage(r.Context(), currentUser(r), r.PathValue("handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}
