package httpapi

import (
	"net/http"

	"github.com/haoyun/renmai/internal/service"
)

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facts.Templates(r.URL.Query().Get("subject_type")))
}

func (s *Server) createFact(w http.ResponseWriter, r *http.Request) {
	var input service.FactCreateInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	fact, err := s.facts.Create(r.Context(), currentUser(r), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fact)
}

func (s *Server) pendingVeto(w http.ResponseWriter, r *http.Request) {
	views, err := s.facts.PendingVeto(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) pendingVetoCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.facts.PendingVetoCount(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) listFactsByAuthor(w http.ResponseWriter, r *http.Request) {
	views, err := s.facts.ListByAuthor(r.Context(), currentUser(r), r.PathValue("handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) listFactsAboutUser(w http.ResponseWriter, r *http.Request) {
	views, err := s.facts.ListAboutUser(r.Context(), currentUser(r), r.PathValue("handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) deleteOrVetoFact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "事实 ID 不合法", "invalid")
		return
	}
	vetoed, err := s.facts.DeleteOrVeto(r.Context(), currentUser(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if vetoed {
		writeJSON(w, http.StatusOK, map[string]bool{"vetoed": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) approveFact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "事实 ID 不合法", "invalid")
		return
	}
	if err := s.facts.Approve(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"approved": true})
}

func (s *Server) voteFact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "事实 ID 不合法", "invalid")
		return
	}
	var req voteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	if err := s.facts.Vote(r.Context(), currentUser(r), id, req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"voted": true})
}

func (s *Server) unvoteFact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "事实 ID 不合法", "invalid")
		return
	}
	if err := s.facts.RemoveVote(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}
