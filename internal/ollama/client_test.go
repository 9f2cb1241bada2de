package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// fakeOllama serves /api/version and /api/show for the given installed models.
func fakeOllama(t *testing.T, installed map[string]bool, extra http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			w.Write([]byte(`{"version":"0.6.2"}`))
		case "/api/show":
			var body struct {
				Model string `json:"model"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if !installed[body.Model] {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":"model '` + body.Model + `' not found"}`))
				return
			}
			w.Write([]byte(`{"details":{"family":"llama"}}`))
		default:
			if extra != nil {
				extra(w, r)
				return
			}
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersion(t *testing.T) {
	c := New(fakeOllama(t, nil, nil).URL + "/")
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "0.6.2" {
		t.Errorf("version = %q", v)
	}
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestIsRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestHasModel(t *testing.T) {
	c := New(fakeOllama(t, map[string]bool{"llava:7b": true}, nil).URL)

	ok, err := c.HasModel(context.Background(), "llava:7b")
	if err != nil || !ok {
		t.Errorf("HasModel(llava:7b) = %v, %v", ok, err)
	}
	ok, err = c.HasModel(context.Background(), "qwen2.5vl")
	if err != nil || ok {
		t.Errorf("HasModel(qwen2.5vl) = %v, %v; want false, nil", ok, err)
	}
}

func TestHasModel_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).HasModel(context.Background(), "llava")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 500 {
		t.Errorf("err = %v, want StatusError 500", err)
	}
}

func TestChat_FormatAndImages(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(chatResponse{
			Message:    Message{Role: "assistant", Content: `{"invoice_number":"INV-7"}`},
			DoneReason: "stop",
		})
	}))
	defer srv.Close()

	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"invoice_number": map[string]any{"type": "string"}},
	}
	out, err := New(srv.URL).Chat(context.Background(), "llava", []Message{
		{Role: "user", Content: "extract", Images: []string{"aGVsbG8="}},
	}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"invoice_number":"INV-7"}` {
		t.Errorf("content = %q", out)
	}

	if f, ok := captured.Format.(map[string]any); !ok || f["type"] != "object" {
		t.Errorf("format = %#v, want schema object", captured.Format)
	}
	if captured.Stream {
		t.Error("stream should be false")
	}
	if captured.KeepAlive == "" {
		t.Error("keep_alive not sent")
	}
	if captured.Options == nil || captured.Options.Temperature != 0 {
		t.Errorf("options = %+v, want temperature 0", captured.Options)
	}
	if len(captured.Messages) != 1 || len(captured.Messages[0].Images) != 1 {
		t.Errorf("images not forwarded: %+v", captured.Messages)
	}
}

func TestChat_NoFormatOmitsOptions(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{"message":{"role":"assistant","content":"ok"}}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Chat(context.Background(), "llava", []Message{{Role: "user", Content: "hi"}}, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["format"]; ok {
		t.Error("format should be omitted")
	}
	if _, ok := raw["options"]; ok {
		t.Error("options should be omitted")
	}
}

func TestChat_Errors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"model does not support images"}`))
		},
		"truncated": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"message":{"role":"assistant","content":"{\"inv"},"done_reason":"length"}`))
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			if _, err := New(srv.URL).Chat(context.Background(), "llava", []Message{{Role: "user", Content: "x"}}, "json"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestChat_StatusErrorCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"model does not support images"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "llava", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "does not support images") {
		t.Errorf("err = %v", err)
	}
}

func TestPullModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "llava" {
			t.Errorf("pull model = %v", body["model"])
		}
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var n int
	if err := New(srv.URL).PullModel(context.Background(), "llava", func(PullProgress) { n++ }); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if n != 3 {
		t.Errorf("progress updates = %d, want 3", n)
	}
}

func TestPullModel_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "pulling manifest"})
		enc.Encode(PullProgress{Error: "pull model manifest: file does not exist"})
	}))
	defer srv.Close()

	err := New(srv.URL).PullModel(context.Background(), "nope", nil)
	if err == nil || !strings.Contains(err.Error(), "file does not exist") {
		t.Errorf("err = %v", err)
	}
}

func TestEnsureReady_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := EnsureReady(context.Background(), New(srv.URL), "llava", &strings.Builder{})
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

func TestEnsureReady_Installed(t *testing.T) {
	var pulls atomic.Int32
	srv := fakeOllama(t, map[string]bool{"llava:7b": true}, func(w http.ResponseWriter, r *http.Request) {
		pulls.Add(1)
	})

	var out strings.Builder
	if err := EnsureReady(context.Background(), New(srv.URL), "llava:7b", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if pulls.Load() != 0 {
		t.Error("installed model should not be pulled")
	}
	if !strings.Contains(out.String(), "model llava:7b: ready") {
		t.Errorf("output = %q", out.String())
	}
}

func TestEnsureReady_PullsMissingModel(t *testing.T) {
	var pulled atomic.Bool
	srv := fakeOllama(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		pulled.Store(true)
		enc := json.NewEncoder(w)
		for _, done := range []int64{0, 250, 500, 1000} {
			enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: done})
		}
		enc.Encode(PullProgress{Status: "success"})
	})

	var out strings.Builder
	if err := EnsureReady(context.Background(), New(srv.URL), "llava", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !pulled.Load() {
		t.Error("model was not pulled")
	}
	for _, want := range []string{"model llava: pulling", "downloading 50%", "downloading 100%", "model llava: ready"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
