package httpapi

import (
	"net/http"

	"github.com/haoyun/renmai/internal/service"
)

type claimRequest struct {
	ToHandle string `json:"to_handle"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

func (s *Server) createClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}

	to, err := s.profiles.GetByHandle(r.Context(), req.ToHandle)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	conn, err := s.conns.CreateClaim(r.Context(), currentUser(r), to.ID, req.Subject, req.Body)
	if s.metrics != nil {
		outcome := "accepted"
		if err != nil {
			outcome = string(service.KindOf(err))
		}
		s.metrics.ClaimsTotal.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	views, err := s.conns.ListConnections(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	views, err := s.conns.ListPending(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) listIgnored(w http.ResponseWriter, r *http.Request) {
	views, err := s.conns.ListIgnored(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) listSent(w http.ResponseWriter, r *http.Request) {
	views, err := s.conns.ListSent(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// userConnections 公开查看某用户的已确认连接
func (s *Server) userConnections(w http.ResponseWriter, r *http.Request) {
	views, err := s.conns.ListConnectionsOf(r.Context(), r.PathValue("handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) connectionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.conns.Status(r.Context(), currentUser(r), r.PathValue("handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) confirmConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "连接 ID 不合法", "invalid")
		return
	}
	conn, err := s.conns.Confirm(r.Context(), currentUser(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) ignoreConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "连接 ID 不合法", "invalid")
		return
	}
	if err := s.conns.Ignore(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ignored": true})
}

// deleteConnection pending 由发起方撤回，confirmed 由任一方解除
func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "连接 ID 不合法", "invalid")
		return
	}
	userID := currentUser(r)

	err = s.conns.Withdraw(r.Context(), userID, id)
	if err != nil && service.KindOf(err) == service.KindConflict {
		// 非 pending，按解除已确认连接处理
		err = s.conns.Disconnect(r.Context(), userID, id)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type voteRequest struct {
	Value int `json:"value"`
}

func (s *Server) voteConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "连接 ID 不合法", "invalid")
		return
	}
	var req voteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	if err := s.conns.Vote(r.Context(), currentUser(r), id, req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"voted": true})
}

func (s *Server) unvoteConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "连接 ID 不合法", "invalid")
		return
	}
	if err := s.conns.RemoveVote(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

type reportRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) reportConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "连接 ID 不合法", "invalid")
		return
	}
	var req reportRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	if err := s.conns.Report(r.Context(), currentUser(r), id, req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"reported": true})
}
