package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
)

const sheetJSON = `{"name":"Ember Fox","type":"fire","color":"orange","description":"A **warm** fox.",
"abilities":["Flame tail"],"base_stats":{"health":60,"attack":70,"defense":40,"speed":80,"intelligence":55,"special":65},
"rarity":"rare","habitat":"volcanic ridges","behavior":"playful","preferred_items":["charcoal"],"height":"0.6 m","weight":"8 kg"}`

type fakeAPI struct {
	chatContent string
	status      int
	errorCode   string
	lastBody    map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.lastBody = map[string]any{}
	_ = json.Unmarshal(body, &f.lastBody)
	w.Header().Set("Content-Type", "application/json")

	if f.status != 0 {
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
			"message": "upstream says no", "type": "invalid_request_error", "code": f.errorCode,
		}})
		return
	}

	switch r.URL.Path {
	case "/v1/chat/completions":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": f.chatContent}}},
		})
	case "/v1/images/generations":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString([]byte("\x89PNG-art"))}},
		})
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestDescribeImage(t *testing.T) {
	for name, content := range map[string]string{
		"plain json":  sheetJSON,
		"fenced json": "```json\n" + sheetJSON + "\n```",
	} {
		t.Run(name, func(t *testing.T) {
			api := &fakeAPI{chatContent: content}
			c := newTestClient(t, api)

			sheet, err := c.DescribeImage(context.Background(), "https://images.example/cat.jpg")
			if err != nil {
				t.Fatalf("DescribeImage: %v", err)
			}
			if sheet.Name != "Ember Fox" || sheet.BaseStats.Speed != 80 || sheet.Rarity != "rare" {
				t.Errorf("unexpected sheet %+v", sheet)
			}
			if api.lastBody["model"] != "gpt-4o-mini" {
				t.Errorf("model = %v", api.lastBody["model"])
			}
			if rf, _ := api.lastBody["response_format"].(map[string]any); rf["type"] != "json_object" {
				t.Errorf("response_format = %v", api.lastBody["response_format"])
			}
		})
	}
}

func TestDescribeImageInvalidJSON(t *testing.T) {
	c := newTestClient(t, &fakeAPI{chatContent: "I think it is a cat."})
	_, err := c.DescribeImage(context.Background(), "https://images.example/cat.jpg")
	if !errors.Is(err, apperr.ErrUpstreamService) {
		t.Fatalf("err = %v", err)
	}
}

func TestIllustrate(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	png, err := c.Illustrate(context.Background(), &entities.CreatureSheet{Name: "Ember Fox", Type: "fire", Color: "orange"})
	if err != nil {
		t.Fatalf("Illustrate: %v", err)
	}
	if string(png) != "\x89PNG-art" {
		t.Errorf("png = %q", png)
	}
	if api.lastBody["response_format"] != "b64_json" || api.lastBody["model"] != "dall-e-3" {
		t.Errorf("request = %v", api.lastBody)
	}
	if prompt, _ := api.lastBody["prompt"].(string); !strings.Contains(prompt, "Ember Fox") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		api      *fakeAPI
		wantKind error
	}{
		{"server error", &fakeAPI{status: http.StatusInternalServerError}, apperr.ErrUpstreamService},
		{"bad key", &fakeAPI{status: http.StatusUnauthorized, errorCode: "invalid_api_key"}, apperr.ErrUpstreamService},
		{"content policy", &fakeAPI{status: http.StatusBadRequest, errorCode: "content_policy_violation"}, apperr.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.api)
			_, err := c.Illustrate(context.Background(), &entities.CreatureSheet{Name: "X"})
			if !errors.Is(err, tt.wantKind) {
				t.Errorf("err = %v, want %v", err, tt.wantKind)
			}
		})
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected an error without an api key")
	}
}

func TestNewClientTimeout(t *testing.T) {
	c, err := NewClient(Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.Timeout != 90*time.Second {
		t.Errorf("default timeout = %v", c.cfg.Timeout)
	}

	c, err = NewClient(Config{APIKey: "sk-test", Timeout: 2 * time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.Timeout != 2*time.Minute {
		t.Errorf("configured timeout = %v", c.cfg.Timeout)
	}
}
