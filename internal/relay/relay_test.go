package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/chatraw/chatraw/internal/provider"
	"github.com/chatraw/chatraw/internal/rag"
	"github.com/chatraw/chatraw/internal/store"
)

// fakePersister records finalization calls.
type fakePersister struct {
	added    []store.Message
	count    int
	countErr error
	titles   map[string]string
	addErr   error
}

func newFakePersister(count int) *fakePersister {
	return &fakePersister{count: count, titles: map[string]string{}}
}

func (f *fakePersister) AddMessage(_ context.Context, chatID string, role store.Role, content string) (store.Message, error) {
	if f.addErr != nil {
		return store.Message{}, f.addErr
	}
	m := store.Message{ChatID: chatID, Role: role, Content: content}
	f.added = append(f.added, m)
	return m, nil
}

func (f *fakePersister) MessageCount(_ context.Context, _ string) (int, error) {
	return f.count, f.countErr
}

func (f *fakePersister) UpdateChatTitle(_ context.Context, chatID, title string) error {
	f.titles[chatID] = title
	return nil
}

// chatServer returns a ChatClient backed by an httptest server emitting the
// given SSE lines.
func chatServer(t *testing.T, lines ...string) (*provider.ChatClient, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
		}
	}))
	pool := provider.NewPool()
	client := provider.NewChatClient(provider.Endpoint{BaseURL: srv.URL, Model: "m"}, pool)
	return client, func() {
		srv.Close()
		pool.Close()
	}
}

// decodeEvents parses an NDJSON buffer into one map per line.
func decodeEvents(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}

func Test_Stream_EventSequenceAndPersistence(t *testing.T) {
	t.Parallel()
	client, done := chatServer(t,
		`data: {"choices":[{"delta":{"reasoning_content":"let me think"}}]}`,
		`data: {"choices":[{"delta":{"content":"Hi"}}]}`,
		`data: {"choices":[{"delta":{"content":" there"}}]}`,
		`data: [DONE]`,
	)
	defer done()

	persister := newFakePersister(2)
	rly, err := New(client, persister)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	err = rly.Stream(context.Background(), &buf, Request{
		ChatID:      "chat-1",
		UserMessage: "hello",
		Thinking:    true,
		References:  []rag.Candidate{{Content: "ref", Score: 0.8}},
	})
	if err != nil {
		t.Fatal(err)
	}

	events := decodeEvents(t, &buf)
	if len(events) != 6 {
		t.Fatalf("want 6 events, got %d: %v", len(events), events)
	}
	if events[0]["chat_id"] != "chat-1" {
		t.Errorf("first event must carry chat_id, got %v", events[0])
	}
	if events[1]["thinking"] != "let me think" {
		t.Errorf("want thinking event second, got %v", events[1])
	}
	if events[2]["content"] != "Hi" || events[3]["content"] != " there" {
		t.Errorf("content events out of order: %v %v", events[2], events[3])
	}
	if _, ok := events[4]["references"]; !ok {
		t.Errorf("want references before done, got %v", events[4])
	}
	if events[5]["done"] != true {
		t.Errorf("last event must be done, got %v", events[5])
	}

	if len(persister.added) != 1 {
		t.Fatalf("want 1 persisted message, got %d", len(persister.added))
	}
	got := persister.added[0]
	want := "<think>\nlet me think\n</think>\n\nHi there"
	if got.Content != want {
		t.Errorf("persisted content = %q, want %q", got.Content, want)
	}
	if got.Role != store.RoleAssistant {
		t.Errorf("persisted role = %s, want assistant", got.Role)
	}
	if persister.titles["chat-1"] != "hello" {
		t.Errorf("title = %q, want the user message", persister.titles["chat-1"])
	}
}

func Test_Stream_ConnectFailureEmitsSingleError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	pool := provider.NewPool()
	defer pool.Close()
	client := provider.NewChatClient(provider.Endpoint{BaseURL: srv.URL, Model: "m"}, pool)

	persister := newFakePersister(2)
	rly, _ := New(client, persister)

	var buf bytes.Buffer
	if err := rly.Stream(context.Background(), &buf, Request{ChatID: "c"}); err == nil {
		t.Error("want error returned for operator logs")
	}

	events := decodeEvents(t, &buf)
	if len(events) != 2 {
		t.Fatalf("want chat_id + error only, got %d events: %v", len(events), events)
	}
	if _, ok := events[1]["error"]; !ok {
		t.Errorf("terminal event must be an error, got %v", events[1])
	}
	if len(persister.added) != 0 {
		t.Error("nothing may be persisted on connect failure")
	}
}

func Test_Stream_NotConfigured(t *testing.T) {
	t.Parallel()
	pool := provider.NewPool()
	defer pool.Close()
	client := provider.NewChatClient(provider.Endpoint{}, pool)
	rly, _ := New(client, newFakePersister(0))

	var buf bytes.Buffer
	_ = rly.Stream(context.Background(), &buf, Request{ChatID: "c"})

	events := decodeEvents(t, &buf)
	if events[len(events)-1]["error"] != "model not configured" {
		t.Errorf("want 'model not configured' error event, got %v", events)
	}
}

func Test_Stream_NoTitleAfterFirstExchange(t *testing.T) {
	t.Parallel()
	client, done := chatServer(t,
		`data: {"choices":[{"delta":{"content":"answer"}}]}`,
		`data: [DONE]`,
	)
	defer done()

	persister := newFakePersister(6)
	rly, _ := New(client, persister)

	var buf bytes.Buffer
	if err := rly.Stream(context.Background(), &buf, Request{ChatID: "c", UserMessage: "q"}); err != nil {
		t.Fatal(err)
	}
	if len(persister.titles) != 0 {
		t.Errorf("title must not change after the first exchange, got %v", persister.titles)
	}
}

func Test_Stream_EmptyAnswerSkipsPersistence(t *testing.T) {
	t.Parallel()
	client, done := chatServer(t, `data: [DONE]`)
	defer done()

	persister := newFakePersister(2)
	rly, _ := New(client, persister)

	var buf bytes.Buffer
	if err := rly.Stream(context.Background(), &buf, Request{ChatID: "c"}); err != nil {
		t.Fatal(err)
	}

	events := decodeEvents(t, &buf)
	if events[len(events)-1]["done"] != true {
		t.Errorf("empty stream still ends with done, got %v", events)
	}
	if len(persister.added) != 0 {
		t.Error("empty answer must not be persisted")
	}
}

func Test_Stream_CancelledContextSuppressesPersistence(t *testing.T) {
	t.Parallel()
	client, done := chatServer(t,
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
		`data: [DONE]`,
	)
	defer done()

	persister := newFakePersister(2)
	rly, _ := New(client, persister)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	if err := rly.Stream(ctx, &buf, Request{ChatID: "c"}); err == nil {
		t.Error("want error for cancelled stream")
	}
	if len(persister.added) != 0 {
		t.Error("cancelled stream must not persist a partial message")
	}
}

func Test_Complete_ReturnsAndPersists(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"full answer","reasoning_content":"why"}}]}`)
	}))
	defer srv.Close()
	pool := provider.NewPool()
	defer pool.Close()
	client := provider.NewChatClient(provider.Endpoint{BaseURL: srv.URL, Model: "m"}, pool)

	persister := newFakePersister(2)
	rly, _ := New(client, persister)

	refs := []rag.Candidate{{Content: "r", Score: 0.9}}
	result, err := rly.Complete(context.Background(), Request{
		ChatID:      "c",
		UserMessage: "a question that is definitely longer than thirty characters",
		Thinking:    true,
		References:  refs,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "full answer" || result.Thinking != "why" {
		t.Errorf("result = %+v", result)
	}
	if len(result.References) != 1 {
		t.Errorf("references not echoed: %+v", result.References)
	}

	if len(persister.added) != 1 {
		t.Fatalf("want 1 persisted message, got %d", len(persister.added))
	}
	if !strings.HasPrefix(persister.added[0].Content, "<think>\nwhy\n</think>\n\n") {
		t.Errorf("thinking not wrapped: %q", persister.added[0].Content)
	}
	wantTitle := "a question that is definitely longer than thirty characters"[:30] + "..."
	if got := persister.titles["c"]; got != wantTitle {
		t.Errorf("title = %q, want %q", got, wantTitle)
	}
}

func Test_TitleFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"short", "short", "short"},
		{"long", strings.Repeat("a", 40), strings.Repeat("a", 30) + "..."},
		{"multibyte under limit", "a请问这个系统的检索流程是什么呢", "a请问这个系统的检索流程是什么呢"},
		{"multibyte over limit", strings.Repeat("检", 35), strings.Repeat("检", 30) + "..."},
	}
	for _, c := range cases {
		got := TitleFor(c.in)
		if got != c.want {
			t.Errorf("TitleFor(%s) = %q, want %q", c.name, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("TitleFor(%s) produced invalid UTF-8: %q", c.name, got)
		}
	}
}
