package errorhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/community/community-api/internal/pkg/logger"
	"github.com/community/community-api/internal/pkg/response"
)

func TestHandleErrorHidesCauseFromClient(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	ctx := logger.WithContext(context.Background(), &l)

	w := httptest.NewRecorder()
	HandleError(ctx, w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Try again later", errors.New("dial tcp: refused"))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != "STORE_UNAVAILABLE" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "refused") {
		t.Fatal("cause leaked to client")
	}
	if !strings.Contains(buf.String(), "refused") {
		t.Fatalf("cause not logged: %s", buf.String())
	}
}

func TestHandleInternalWrites500(t *testing.T) {
	w := httptest.NewRecorder()
	HandleInternal(context.Background(), w, "inbox", errors.New("boom"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
