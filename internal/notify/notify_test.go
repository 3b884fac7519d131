package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/hfi/token-broker/internal/secret"
)

var testRecord = &secret.Record{
	Version:   "21",
	Secret:    []byte{1, 2, 3},
	FetchedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
}

type recorder struct {
	rotations []string
	errs      []error
}

func (r *recorder) NotifyRotation(rec *secret.Record) { r.rotations = append(r.rotations, rec.Version) }
func (r *recorder) NotifyError(err error)             { r.errs = append(r.errs, err) }

func TestMulti_Broadcasts(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := NewMulti(a, nil, b)

	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}

	m.NotifyRotation(testRecord)
	m.NotifyError(errors.New("down"))

	for _, r := range []*recorder{a, b} {
		if len(r.rotations) != 1 || r.rotations[0] != "21" || len(r.errs) != 1 {
			t.Errorf("recorder = %+v", r)
		}
	}
}

func TestMulti_TypedNilNotifiers(t *testing.T) {
	var sn *SentryNotifier
	var sl *SlackNotifier
	m := NewMulti(sn, sl)

	// nil receivers are no-ops
	m.NotifyRotation(testRecord)
	m.NotifyError(errors.New("down"))
}

func TestNewSentryNotifier_Disabled(t *testing.T) {
	n, err := NewSentryNotifier(sentry.ClientOptions{})
	if err != nil || n != nil {
		t.Errorf("NewSentryNotifier() = %v, %v; want nil, nil", n, err)
	}
}

func TestNewSentryNotifier_BadDSN(t *testing.T) {
	if _, err := NewSentryNotifier(sentry.ClientOptions{Dsn: "::not a dsn"}); err == nil {
		t.Error("NewSentryNotifier() should reject a malformed DSN")
	}
}

func TestSentryNotifier_Captures(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)

	n, err := NewSentryNotifier(sentry.ClientOptions{
		Dsn: "https://public@sentry.example.com/1",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewSentryNotifier() error: %v", err)
	}

	n.NotifyRotation(testRecord)
	n.NotifyError(errors.New("dictionary unreachable"))

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("captured %d events, want 2", len(events))
	}
	if !strings.Contains(events[0].Message, "21") || events[0].Tags["secret_version"] != "21" {
		t.Errorf("rotation event = %+v", events[0])
	}
	if len(events[1].Exception) == 0 || events[1].Exception[0].Value != "dictionary unreachable" {
		t.Errorf("error event = %+v", events[1].Exception)
	}
}

type slackPost struct {
	Channel     string
	Attachments []slack.Attachment
}

func newSlackServer(t *testing.T, status int) (*httptest.Server, *[]slackPost) {
	t.Helper()
	var (
		mu    sync.Mutex
		posts []slackPost
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error: %v", err)
		}

		var atts []slack.Attachment
		_ = json.Unmarshal([]byte(r.FormValue("attachments")), &atts)

		mu.Lock()
		posts = append(posts, slackPost{Channel: r.FormValue("channel"), Attachments: atts})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &posts
}

func TestNewSlackNotifier_Disabled(t *testing.T) {
	if n := NewSlackNotifier("", "C123", zerolog.Nop()); n != nil {
		t.Error("missing token should disable slack")
	}
	if n := NewSlackNotifier("xoxb-token", "", zerolog.Nop()); n != nil {
		t.Error("missing channel should disable slack")
	}
}

func TestSlackNotifier_Posts(t *testing.T) {
	srv, posts := newSlackServer(t, http.StatusOK)
	n := NewSlackNotifier("xoxb-token", "C123", zerolog.Nop(), slack.OptionAPIURL(srv.URL+"/"))

	n.NotifyRotation(testRecord)
	n.NotifyError(errors.New("dictionary unreachable"))

	if len(*posts) != 2 {
		t.Fatalf("posts = %d, want 2", len(*posts))
	}

	rotation := (*posts)[0]
	if rotation.Channel != "C123" || len(rotation.Attachments) != 1 {
		t.Fatalf("rotation post = %+v", rotation)
	}
	if rotation.Attachments[0].Fields[0].Value != "`21`" {
		t.Errorf("version field = %q", rotation.Attachments[0].Fields[0].Value)
	}

	failure := (*posts)[1]
	if len(failure.Attachments) != 1 || !strings.Contains(failure.Attachments[0].Text, "dictionary unreachable") {
		t.Errorf("failure post = %+v", failure)
	}
}

func TestSlackNotifier_PostFailureIsLogged(t *testing.T) {
	srv, _ := newSlackServer(t, http.StatusInternalServerError)
	n := NewSlackNotifier("xoxb-token", "C123", zerolog.Nop(), slack.OptionAPIURL(srv.URL+"/"))

	// must not panic or block
	n.NotifyError(errors.New("down"))
}
