package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-token", srv.URL, "wan-video/wan-2.2-i2v-fast", 10*time.Second, 6000, slog.Default())
	c.pollInterval = time.Millisecond
	return c, srv
}

func TestGenerateSuccess(t *testing.T) {
	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/models/wan-video/wan-2.2-i2v-fast/predictions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		var payload struct {
			Input map[string]any `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Input["image"] != "https://store.test/romantic.png" {
			t.Errorf("input image = %v", payload.Input["image"])
		}
		if payload.Input["resolution"] != "480p" {
			t.Errorf("input resolution = %v", payload.Input["resolution"])
		}
		fmt.Fprint(w, `{"id":"pred-1","status":"starting"}`)
	})
	mux.HandleFunc("GET /v1/predictions/pred-1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 3 {
			fmt.Fprint(w, `{"id":"pred-1","status":"processing"}`)
			return
		}
		fmt.Fprint(w, `{"id":"pred-1","status":"succeeded","output":"https://videos.test/out.mp4"}`)
	})

	c, _ := newTestClient(t, mux)

	url, err := c.Generate(context.Background(), "https://store.test/romantic.png")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if url != "https://videos.test/out.mp4" {
		t.Errorf("url = %q", url)
	}
	if polls != 3 {
		t.Errorf("polls = %d, want 3", polls)
	}
}

func TestGeneratePredictionFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/models/wan-video/wan-2.2-i2v-fast/predictions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"pred-2","status":"starting"}`)
	})
	mux.HandleFunc("GET /v1/predictions/pred-2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"pred-2","status":"failed","error":"NSFW content detected"}`)
	})

	c, _ := newTestClient(t, mux)

	_, err := c.Generate(context.Background(), "https://store.test/img.png")
	if err == nil || !strings.Contains(err.Error(), "failed") {
		t.Fatalf("Generate err = %v, want prediction failure", err)
	}
}

func TestGenerateServerError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid token"}`, http.StatusUnauthorized)
	}))

	_, err := c.Generate(context.Background(), "https://store.test/img.png")
	if err == nil || !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("Generate err = %v, want status=401", err)
	}
}

func TestGenerateContextCanceled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/models/wan-video/wan-2.2-i2v-fast/predictions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"pred-3","status":"starting"}`)
	})
	mux.HandleFunc("GET /v1/predictions/pred-3", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"pred-3","status":"processing"}`)
	})

	c, _ := newTestClient(t, mux)
	c.pollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, "https://store.test/img.png")
	if err == nil {
		t.Fatal("Generate should fail when the context expires")
	}
}

func TestOutputURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"string output", `"https://v/1.mp4"`, "https://v/1.mp4", false},
		{"array output", `["https://v/1.mp4","https://v/2.mp4"]`, "https://v/1.mp4", false},
		{"empty", ``, "", true},
		{"null", `null`, "", true},
		{"object", `{"weird":true}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := outputURL(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("outputURL(%s) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("outputURL(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
