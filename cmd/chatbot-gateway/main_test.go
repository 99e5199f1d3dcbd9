package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatbot-gateway/pkg/content"
	"github.com/go-go-golems/chatbot-gateway/pkg/gateway"
	"github.com/go-go-golems/chatbot-gateway/pkg/prompt"
	"github.com/go-go-golems/chatbot-gateway/pkg/turnevents"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func newTestApp(t *testing.T, dir, config string) *app {
	t.Helper()
	cfg := filepath.Join(dir, "config.json")
	if config != "" {
		writeFile(t, cfg, config)
	}
	return newApp(AppSettings{DataDir: dir, ConfigFile: cfg})
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	root, err := newRootCmd()
	require.NoError(t, err)

	for _, name := range []string{"serve", "check", "prompt", "config", "transcript", "events"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		require.Equal(t, name, cmd.Name())
	}
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	for _, flag := range []string{"port", "session-timeout", "data-dir", "redis-enabled", "redis-stream"} {
		require.NotNil(t, serve.Flags().Lookup(flag), flag)
	}
}

func TestConfig_LayersFileAndContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, content.ContentFile),
		`{"settings": {"chatbotSettings": {"maxTokens": 256, "welcomeMessage": "Hallo!"}}}`)
	a := newTestApp(t, dir, `{"chatbot": {"ollama_model": "mistral:7b", "max_tokens": 512}}`)

	row := settingsRow(a.resolver.Resolve())
	model, ok := row.Get("model")
	require.True(t, ok)
	require.Equal(t, "mistral:7b", model)
	maxTokens, _ := row.Get("max_tokens")
	require.Equal(t, 256, maxTokens)
	welcome, _ := row.Get("welcome_message")
	require.Equal(t, "Hallo!", welcome)
	enabled, _ := row.Get("enabled")
	require.Equal(t, true, enabled)
}

func TestWritePrompt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, content.PromptTextFile), "Du bist ein Testassistent.")
	writeFile(t, filepath.Join(dir, content.ContentFile), `{"settings": {"companyName": "Beispiel GmbH"}}`)
	a := newTestApp(t, dir, "")

	var out bytes.Buffer
	require.NoError(t, writePrompt(&out, a, &PromptSettings{}))
	require.True(t, strings.HasPrefix(out.String(), "Du bist ein Testassistent."))
	require.Contains(t, out.String(), prompt.LiveDataHeader)
	require.Contains(t, out.String(), "FIRMENNAME: Beispiel GmbH")
	require.NotContains(t, out.String(), "source: ")

	out.Reset()
	require.NoError(t, writePrompt(&out, a, &PromptSettings{Stats: true}))
	require.Contains(t, out.String(), "\n\nsource: "+content.PromptTextFile+", tokens: ")

	out.Reset()
	require.NoError(t, writePrompt(&out, a, &PromptSettings{StatsOnly: true}))
	require.True(t, strings.HasPrefix(out.String(), "source: "+content.PromptTextFile))
	require.Equal(t, 1, strings.Count(out.String(), "\n"))
}

func TestIsTerminal_BufferIsNot(t *testing.T) {
	require.False(t, isTerminal(&bytes.Buffer{}))
}

func TestListTranscript(t *testing.T) {
	_, err := listTranscript(context.Background(), &TranscriptSettings{}, time.Now())
	require.Error(t, err)

	db := filepath.Join(t.TempDir(), "turns.db")
	_, err = listTranscript(context.Background(), &TranscriptSettings{DB: db, Since: "gestern"}, time.Now())
	require.Error(t, err)

	entries, err := listTranscript(context.Background(), &TranscriptSettings{DB: db, Since: "2h", Limit: 50}, time.Now())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("sweep-interval", "5m")
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, d)

	d, err = parseDuration("sweep-interval", "")
	require.NoError(t, err)
	require.Zero(t, d)

	_, err = parseDuration("sweep-interval", "-1s")
	require.Error(t, err)
	_, err = parseDuration("session-timeout", "halbe Stunde")
	require.ErrorContains(t, err, "--session-timeout")
}

func TestRunCheck_ReachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"models": [{"name": "llama3:8b"}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, content.PromptMarkdownFile), "# Prompt")
	a := newTestApp(t, dir, `{"chatbot": {"ollama_url": "`+srv.URL+`", "ollama_model": "mistral:7b"}}`)

	pub, err := turnevents.NewPublisher(turnevents.Settings{}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	r := runCheck(context.Background(), a, pub)
	require.True(t, r.Reachable)
	require.Equal(t, []string{"llama3:8b"}, r.Models)
	require.False(t, r.ModelInstalled)
	require.Equal(t, content.PromptMarkdownFile, r.PromptSource)
	require.Equal(t, "in-process", r.EventsTransport)

	byCheck := map[string]checkItem{}
	for _, item := range r.items() {
		byCheck[item.Check] = item
	}
	require.Equal(t, statusOK, byCheck["ollama"].Status)
	require.Equal(t, statusWarn, byCheck["model"].Status)
	require.Equal(t, "ollama pull mistral:7b", byCheck["model"].Hint)
	require.Equal(t, statusOK, byCheck["prompt"].Status)
	require.Equal(t, statusWarn, byCheck["knowledge-base"].Status)
	require.Equal(t, statusOK, byCheck["events"].Status)
}

func TestReportItems_UnreachableBackend(t *testing.T) {
	r := Report{
		BackendURL:   "http://localhost:11434",
		Model:        "llama3:8b",
		BackendError: "connection refused",
		PromptSource: string(prompt.OriginDefault),
	}
	items := r.items()
	require.Equal(t, "config", items[0].Check)

	var ollama checkItem
	for _, item := range items {
		if item.Check == "ollama" {
			ollama = item
		}
		require.NotEqual(t, "model", item.Check)
	}
	require.Equal(t, statusFail, ollama.Status)
	require.Equal(t, "connection refused", ollama.Detail)
	require.Equal(t, "ollama serve", ollama.Hint)
}

func TestWriteEvents(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed := func() <-chan gateway.Event {
		ch := make(chan gateway.Event, 2)
		ch <- gateway.Event{Type: gateway.EventSessionCreated, SessionID: "s1", At: at}
		ch <- gateway.Event{Type: gateway.EventTurnCompleted, SessionID: "s1", At: at, User: "<Hallo>", Seq: 1}
		close(ch)
		return ch
	}

	var out bytes.Buffer
	require.NoError(t, writeEvents(&out, "json", feed()))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"type":"session-created"`)
	require.Contains(t, lines[1], `"user":"<Hallo>"`)

	out.Reset()
	require.NoError(t, writeEvents(&out, "yaml", feed()))
	require.Contains(t, out.String(), "type: session-created\n")
	require.Contains(t, out.String(), "---\n")
	require.Contains(t, out.String(), "seq: 1\n")

	require.Error(t, writeEvents(&out, "xml", feed()))
}
