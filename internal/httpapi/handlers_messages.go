package httpapi

import "net/http"

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	views, err := s.msgs.ListConversations(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.msgs.UnreadCount(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) pendingConnectionsCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.msgs.PendingConnectionsCount(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) conversationWith(w http.ResponseWriter, r *http.Request) {
	conv, other, err := s.msgs.GetOrCreateConversationWith(r.Context(), currentUser(r), r.PathValue("handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv, "other": other})
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "会话 ID 不合法", "invalid")
		return
	}
	msgs, err := s.msgs.GetMessages(r.Context(), currentUser(r), id, queryInt64(r, "after_id"), queryInt(r, "limit"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type messageRequest struct {
	Content string `json:"content"`
}

func (s *Server) sendToConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "会话 ID 不合法", "invalid")
		return
	}
	var req messageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	msg, err := s.msgs.SendToConversation(r.Context(), currentUser(r), id, req.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) sendToHandle(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	msg, err := s.msgs.SendToHandle(r.Context(), currentUser(r), r.PathValue("handle"), req.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
