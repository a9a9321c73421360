package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/infrastructure/responder/gemini"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func chatRouter(client *gemini.Client) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/chat", NewChatHandler(client, testLogger()).Generate)
	return router
}

func postChat(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse error body %q: %v", w.Body.String(), err)
	}
	return resp.Error
}

func TestChatHandler_MissingAPIKey(t *testing.T) {
	client := gemini.New(gemini.Config{Model: "m"}, testLogger())
	router := chatRouter(client)

	w := postChat(t, router, `{"message":"hi"}`)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", w.Code)
	}
	if got := errorBody(t, w); got != "API key not found" {
		t.Errorf("error: got %q", got)
	}
}

func TestChatHandler_EmptyPayloadRejected(t *testing.T) {
	client := gemini.New(gemini.Config{APIKey: "k", Model: "m"}, testLogger())
	router := chatRouter(client)

	for _, body := range []string{`{}`, `{"message":"","image":""}`, `not json`} {
		w := postChat(t, router, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status %d, want 400", body, w.Code)
			continue
		}
		if got := errorBody(t, w); got != "Message or image is required" {
			t.Errorf("body %q: error %q", body, got)
		}
	}
}

func TestChatHandler_HistoryOnlyAccepted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"continuing"}]}}]}`))
	}))
	defer upstream.Close()

	client := gemini.New(gemini.Config{BaseURL: upstream.URL, APIKey: "k", Model: "m", Timeout: 5 * time.Second}, testLogger())
	router := chatRouter(client)

	w := postChat(t, router, `{"history":[{"text":"earlier","sender":"user"}]}`)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200, body %s", w.Code, w.Body.String())
	}
}

func TestChatHandler_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer upstream.Close()

	client := gemini.New(gemini.Config{BaseURL: upstream.URL, APIKey: "k", Model: "m", Timeout: 5 * time.Second}, testLogger())
	router := chatRouter(client)

	w := postChat(t, router, `{"message":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", w.Code)
	}
	if got := errorBody(t, w); got != "Something went wrong" {
		t.Errorf("error: got %q", got)
	}
}

func TestChatHandler_RelaysRawProviderResponse(t *testing.T) {
	providerBody := `{"candidates":[{"content":{"role":"model","parts":[{"text":"relayed"}]}}],"modelVersion":"m-001"}`
	var gotReq gemini.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode upstream request: %v", err)
		}
		w.Write([]byte(providerBody))
	}))
	defer upstream.Close()

	client := gemini.New(gemini.Config{BaseURL: upstream.URL, APIKey: "k", Model: "m", Timeout: 5 * time.Second}, testLogger())
	router := chatRouter(client)

	payload := `{
		"message": "and this one?",
		"history": [
			{"text": "what is in this image", "image": "data:image/jpeg;base64,QUJD", "sender": "user"},
			{"text": "a cat", "sender": "bot"}
		]
	}`
	w := postChat(t, router, payload)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	// The provider's body passes through byte-for-byte.
	if w.Body.String() != providerBody {
		t.Errorf("body not relayed verbatim: %s", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: %q", ct)
	}

	// History mapped onto API turns: data-URL prefix stripped, bot -> model.
	if len(gotReq.Contents) != 3 {
		t.Fatalf("upstream turns: got %d, want 3", len(gotReq.Contents))
	}
	first := gotReq.Contents[0]
	if first.Parts[1].InlineData == nil || first.Parts[1].InlineData.Data != "QUJD" {
		t.Errorf("data-URL prefix not stripped: %+v", first.Parts)
	}
	if gotReq.Contents[1].Role != "model" {
		t.Errorf("bot turn role: %q", gotReq.Contents[1].Role)
	}
	if gotReq.Contents[2].Parts[0].Text != "and this one?" {
		t.Errorf("current message missing: %+v", gotReq.Contents[2])
	}
}

func TestStripDataPrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"data:image/png;base64,AAAA", "AAAA"},
		{"base64,BBBB", "BBBB"},
		{"CCCC", "CCCC"},
	}
	for _, tt := range tests {
		if got := stripDataPrefix(tt.in); got != tt.want {
			t.Errorf("stripDataPrefix(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
