package httpapi

import "net/http"

type postRequest struct {
	Content    string `json:"content"`
	Visibility string `json:"visibility"`
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	post, err := s.posts.Create(r.Context(), currentUser(r), req.Content, req.Visibility)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	mine := r.URL.Query().Get("filter") == "mine"
	views, err := s.posts.List(r.Context(), currentUser(r), queryInt64(r, "before_id"), queryInt(r, "limit"), mine)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "帖子 ID 不合法", "invalid")
		return
	}
	post, comments, err := s.posts.Get(r.Context(), currentUser(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post": post, "comments": comments})
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "帖子 ID 不合法", "invalid")
		return
	}
	if err := s.posts.Delete(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type replyRequest struct {
	Content string `json:"content"`
}

func (s *Server) replyPost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "帖子 ID 不合法", "invalid")
		return
	}
	var req replyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	reply, err := s.posts.Reply(r.Context(), currentUser(r), id, req.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) votePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "帖子 ID 不合法", "invalid")
		return
	}
	var req voteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	if err := s.posts.Vote(r.Context(), currentUser(r), id, req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"voted": true})
}

func (s *Server) unvotePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "帖子 ID 不合法", "invalid")
		return
	}
	if err := s.posts.RemoveVote(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

type visibilityRequest struct {
	Visibility string `json:"visibility"`
}

func (s *Server) changePostVisibility(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "帖子 ID 不合法", "invalid")
		return
	}
	var req visibilityRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	if err := s.posts.ChangeVisibility(r.Context(), currentUser(r), id, req.Visibility); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) reportPost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "帖子 ID 不合法", "invalid")
		return
	}
	var req reportRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	if err := s.posts.Report(r.Context(), currentUser(r), id, req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"reported": true})
}
