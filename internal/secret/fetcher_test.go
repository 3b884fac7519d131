package secret

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"19":[1,2,3],"20":[4,5,6]}`))
	}))
	defer srv.Close()

	dict, err := NewHTTPFetcher(srv.Client(), srv.URL, "broker-test").Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(dict) != 2 || len(dict["20"]) != 3 {
		t.Errorf("dict = %v", dict)
	}
	if gotUA != "broker-test" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestHTTPFetcher_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.Client(), srv.URL, "").Fetch(context.Background())

	var status *StatusError
	if !errors.As(err, &status) {
		t.Fatalf("Fetch() error = %v, want *StatusError", err)
	}
	if status.Code != http.StatusServiceUnavailable || !status.Temporary() {
		t.Errorf("status = %+v", status)
	}
}

func TestHTTPFetcher_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"20": "not-an-array"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.Client(), srv.URL, "").Fetch(context.Background())

	var malformed *MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("Fetch() error = %v, want *MalformedError", err)
	}
}

func TestHTTPFetcher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewHTTPFetcher(nil, url, "").Fetch(context.Background()); err == nil {
		t.Error("Fetch() against a closed server should fail")
	}
}
