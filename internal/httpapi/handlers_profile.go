package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/haoyun/renmai/internal/service"
)

const maxImageBytes = 5 << 20

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	profile, err := s.profiles.Me(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var input service.ProfileUpdate
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "请求体不合法", "invalid")
		return
	}
	profile, err := s.profiles.Update(r.Context(), currentUser(r), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) checkHandle(w http.ResponseWriter, r *http.Request) {
	available, err := s.profiles.CheckHandle(r.Context(), currentUser(r), r.URL.Query().Get("handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	summary, err := s.profiles.GetByHandle(r.Context(), r.PathValue("handle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) setAvatar(w http.ResponseWriter, r *http.Request) {
	s.uploadImage(w, r, s.profiles.SetAvatar)
}

func (s *Server) setCover(w http.ResponseWriter, r *http.Request) {
	s.uploadImage(w, r, s.profiles.SetCover)
}

func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request, store func(ctx context.Context, userID int64, data []byte, contentType string) (string, error)) {
	defer r.Body.Close()
	// 多读一个字节以区分恰好到上限与超限
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "读取图片失败", "invalid")
		return
	}
	if len(data) > maxImageBytes {
		writeError(w, http.StatusBadRequest, "图片不能超过 5MB", "invalid")
		return
	}

	url, err := store(r.Context(), currentUser(r), data, r.Header.Get("Content-Type"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) exportMe(w http.ResponseWriter, r *http.Request) {
	export, err := s.profiles.Export(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="renmai-export.json"`)
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) deleteMe(w http.ResponseWriter, r *http.Request) {
	if err := s.profiles.DeleteAccount(r.Context(), currentUser(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) deleteAvatar(w http.ResponseWriter, r *http.Request) {
	if err := s.profiles.DeleteAvatar(r.Context(), currentUser(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
