package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haoyun/renmai/internal/auth"
	"github.com/haoyun/renmai/internal/pkg/config"
	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/schema"
	"github.com/haoyun/renmai/internal/service"
	"github.com/haoyun/renmai/internal/testutil"
)

// stubBlobStore 记录写入次数，校验超限请求不触达存储
type stubBlobStore struct {
	stored int
}

func (s *stubBlobStore) Store(data []byte, contentType string) (string, error) {
	s.stored++
	return fmt.Sprintf("blob-%d", s.stored), nil
}

func (s *stubBlobStore) URLFor(path string) string {
	if path == "" {
		return ""
	}
	return "/media/" + path
}

func (s *stubBlobStore) Delete(path string) error { return nil }

func newProfileTestServer(t *testing.T) (*Server, string, *stubBlobStore) {
	t.Helper()
	db := testutil.OpenTestDB(t)
	users := repository.NewUserRepository(db)
	user := &schema.User{
		Handle:          "alice",
		Email:           "alice@example.com",
		Trustworthiness: 1.0,
		KarmaPoints:     15,
	}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	sessions := auth.NewSessionStore(db, 0)
	token, err := sessions.Issue(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	blobs := &stubBlobStore{}
	profiles := service.NewProfileService(users,
		repository.NewPostRepository(db), repository.NewFactRepository(db), blobs)

	srv := New(config.ServerConfig{Addr: ":0"}, Deps{
		Sessions: sessions,
		Profiles: profiles,
	})
	return srv, token, blobs
}

func TestUploadImageSizeLimit(t *testing.T) {
	srv, token, blobs := newProfileTestServer(t)

	upload := func(size int) *httptest.ResponseRecorder {
		t.Helper()
		body := bytes.Repeat([]byte("a"), size)
		req := httptest.NewRequest(http.MethodPut, "/api/me/avatar", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "image/png")
		rec := httptest.NewRecorder()
		srv.srv.Handler.ServeHTTP(rec, req)
		return rec
	}

	// 超限的请求体整体拒绝，而不是截断后入库
	if rec := upload(maxImageBytes + 1); rec.Code != http.StatusBadRequest {
		t.Errorf("oversized upload: status = %d, want 400", rec.Code)
	}
	if blobs.stored != 0 {
		t.Error("oversized upload reached the blob store")
	}

	// 恰好到上限仍然接受
	if rec := upload(maxImageBytes); rec.Code != http.StatusOK {
		t.Errorf("max-size upload: status = %d, want 200", rec.Code)
	}
	if blobs.stored != 1 {
		t.Errorf("stored = %d, want 1", blobs.stored)
	}
}
