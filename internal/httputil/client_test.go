package httputil

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestMockClientAnswersFromQueue(t *testing.T) {
	mock := NewMockHTTPClient().
		AddResponse(200, `{"ok":true}`).
		AddResponse(503, "overloaded")

	req, _ := http.NewRequest(http.MethodGet, "http://catalog.test/search", nil)
	resp, err := mock.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || string(body) != `{"ok":true}` {
		t.Errorf("first response = %d %q", resp.StatusCode, body)
	}

	resp, err = mock.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 503 {
		t.Errorf("second response = %d, want 503", resp.StatusCode)
	}

	// An exhausted queue answers 200 with an empty body.
	resp, err = mock.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || len(body) != 0 {
		t.Errorf("exhausted queue = %d %q, want empty 200", resp.StatusCode, body)
	}

	if mock.RequestCount() != 3 {
		t.Errorf("RequestCount = %d, want 3", mock.RequestCount())
	}
}

func TestMockClientErrorResponse(t *testing.T) {
	wantErr := errors.New("connection refused")
	mock := NewMockHTTPClient().AddErrorResponse(wantErr)

	req, _ := http.NewRequest(http.MethodGet, "http://catalog.test/search", nil)
	if _, err := mock.Do(req); !errors.Is(err, wantErr) {
		t.Errorf("Do err = %v, want %v", err, wantErr)
	}
}

func TestMockClientRecordsPosts(t *testing.T) {
	mock := NewMockHTTPClient().AddResponse(200, "")

	_, err := mock.Post("http://auth.test/token", "application/x-www-form-urlencoded",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	req := mock.GetRequest(0)
	if req == nil {
		t.Fatal("no recorded request")
	}
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		t.Errorf("content type = %q", ct)
	}
	if mock.GetRequest(5) != nil {
		t.Error("out-of-range request should be nil")
	}
}

func TestMockClientDoFuncOverridesQueue(t *testing.T) {
	mock := NewMockHTTPClient().AddResponse(200, "queued")
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("handled by DoFunc")
	}

	req, _ := http.NewRequest(http.MethodGet, "http://catalog.test/", nil)
	if _, err := mock.Do(req); err == nil {
		t.Error("DoFunc should take precedence over the queue")
	}
	if mock.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1", mock.RequestCount())
	}
}

func TestNewStandardClientDefaults(t *testing.T) {
	c := NewStandardClient(nil)
	if c.Client != http.DefaultClient {
		t.Error("nil should fall back to http.DefaultClient")
	}

	own := &http.Client{}
	if NewStandardClient(own).Client != own {
		t.Error("explicit client not kept")
	}
}

var _ HTTPClient = (*StandardClient)(nil)
var _ HTTPClient = (*MockHTTPClient)(nil)
