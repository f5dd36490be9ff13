package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSMSSender_PostsForm(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got = map[string]string{
			"apiKey":    r.PostForm.Get("apiKey"),
			"recipient": r.PostForm.Get("recipient"),
			"text":      r.PostForm.Get("text"),
			"from":      r.PostForm.Get("from"),
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"messageId":"42"}}`))
	}))
	defer srv.Close()

	s := NewSMSSender(SMSConfig{URL: srv.URL, APIKey: "k", Sender: "AUTHMS"}, srv.Client())
	if err := s.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got["apiKey"] != "k" || got["recipient"] != "254712345678" || got["from"] != "AUTHMS" {
		t.Fatalf("unexpected form: %v", got)
	}
	if got["text"] != testMessage().Body {
		t.Fatalf("unexpected text %q", got["text"])
	}
}

func TestSMSSender_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"server error", http.StatusBadGateway, ``, true},
		{"rate limited", http.StatusTooManyRequests, ``, true},
		{"bad request", http.StatusBadRequest, ``, false},
		{"provider code", http.StatusOK, `{"code":1,"message":"bad recipient"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewSMSSender(SMSConfig{URL: srv.URL, APIKey: "k"}, srv.Client()).Send(context.Background(), testMessage())
			if err == nil {
				t.Fatalf("expected error")
			}
			if IsTransient(err) != tt.transient {
				t.Fatalf("IsTransient = %v, want %v (err=%v)", IsTransient(err), tt.transient, err)
			}
		})
	}
}

func TestSMSSender_NetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewSMSSender(SMSConfig{URL: url, APIKey: "k"}, nil).Send(context.Background(), testMessage())
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
