package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"draftbot/internal/config"
	"draftbot/internal/draft"
	"draftbot/internal/publish"
	"draftbot/internal/schedule"
	"draftbot/internal/store"
	"draftbot/internal/transport"
	"draftbot/pkg/logx"
)

const (
	testSource  = int64(-100500)
	testPrimary = int64(-100600)
	testBackup  = int64(-100700)
	testPreview = int64(-100800)
)

type sentText struct {
	chat int64
	text string
}

type fakeAdapter struct {
	mu        sync.Mutex
	sent      []sentText
	deleted   []transport.MessageRef
	copies    []transport.MessageRef // destination chat + source message id per CopyMessage
	protected []bool
	polls     []int64
	nextID    int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{chat: to.ChatID, text: text})
	f.nextID++
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{chat: ref.ChatID, text: text})
	return nil
}

func (f *fakeAdapter) CopyMessage(ctx context.Context, to transport.ChatTarget, from transport.ChatTarget, messageID int, protected bool) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref := transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}
	f.copies = append(f.copies, transport.MessageRef{ChatID: to.ChatID, MessageID: messageID})
	f.protected = append(f.protected, protected)
	return ref, nil
}

func (f *fakeAdapter) SendPoll(ctx context.Context, to transport.ChatTarget, p draft.Poll) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.polls = append(f.polls, to.ChatID)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) Delete(ctx context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func (f *fakeAdapter) BotUsername() string { return "draftbot_test" }

func (f *fakeAdapter) lastText(t *testing.T) sentText {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return f.sent[len(f.sent)-1]
}

func newTestBot(t *testing.T) (*Bot, *fakeAdapter, *store.Store) {
	t.Helper()
	ad := &fakeAdapter{}
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "drafts.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	targets := publish.NewTargets(testPrimary, testBackup, testPreview, false)
	var b *Bot
	reg := schedule.NewRegistry(func(ctx context.Context, ids []int) { b.RunScheduled(ctx, ids) }, logx.Nop())
	t.Cleanup(reg.Stop)
	pipe := publish.NewPipeline(st, ad, publish.NewSender(0, logx.Nop()), targets, reg, testSource, logx.Nop())

	b = New(Options{
		Adapter:  ad,
		Store:    st,
		Pipeline: pipe,
		Registry: reg,
		Targets:  targets,
		Channels: config.ChannelsConfig{Source: testSource, Primary: testPrimary, Backup: testBackup, Preview: testPreview},
		Location: time.UTC,
		TZName:   "UTC",
		Log:      logx.Nop(),
	})
	return b, ad, st
}

func channelText(id int, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateChannelPost, Post: &transport.ChannelPost{
		ID: id, ChatID: testSource, Text: text,
	}}
}

func TestCaptureThenListar(t *testing.T) {
	b, ad, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, channelText(5, "hola mundo"))
	b.HandleUpdate(ctx, channelText(6, "/listar"))

	got := ad.lastText(t)
	if got.chat != testSource {
		t.Fatalf("replied to %d", got.chat)
	}
	if !strings.Contains(got.text, "Borradores pendientes") || !strings.Contains(got.text, "hola mundo  (id:5)") {
		t.Fatalf("listing = %q", got.text)
	}
}

func TestListarEmpty(t *testing.T) {
	b, ad, _ := newTestBot(t)
	b.HandleUpdate(context.Background(), channelText(1, "/listar"))
	if got := ad.lastText(t); got.text != "📁 No hay borradores." {
		t.Fatalf("got %q", got.text)
	}
}

func TestPostsFromOtherChatsIgnored(t *testing.T) {
	b, ad, st := newTestBot(t)
	b.HandleUpdate(context.Background(), transport.Update{Kind: transport.UpdateChannelPost, Post: &transport.ChannelPost{
		ID: 1, ChatID: -42, Text: "no es el canal",
	}})
	items, err := st.ListPending(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 || len(ad.sent) != 0 {
		t.Fatalf("foreign post captured: items=%v sent=%v", items, ad.sent)
	}
}

func TestCancelarThenDeshacer(t *testing.T) {
	b, ad, st := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, channelText(10, "uno"))
	b.HandleUpdate(ctx, channelText(11, "dos"))
	b.HandleUpdate(ctx, channelText(12, "/cancelar 10"))
	if got := ad.lastText(t); !strings.Contains(got.text, "Cancelado id:10") {
		t.Fatalf("got %q", got.text)
	}
	items, _ := st.ListPending(ctx)
	if len(items) != 1 || items[0].ID != 11 {
		t.Fatalf("pending after cancel = %+v", items)
	}

	// Bare /deshacer reverts the most recent cancel.
	b.HandleUpdate(ctx, channelText(13, "/deshacer"))
	if got := ad.lastText(t); !strings.Contains(got.text, "Restaurado id:10") {
		t.Fatalf("got %q", got.text)
	}
	items, _ = st.ListPending(ctx)
	if len(items) != 2 {
		t.Fatalf("pending after undo = %+v", items)
	}
}

func TestCancelarByReply(t *testing.T) {
	b, ad, st := newTestBot(t)
	ctx := context.Background()
	b.HandleUpdate(ctx, channelText(20, "uno"))
	b.HandleUpdate(ctx, transport.Update{Kind: transport.UpdateChannelPost, Post: &transport.ChannelPost{
		ID: 21, ChatID: testSource, Text: "/cancelar", ReplyTo: 20,
	}})
	if got := ad.lastText(t); !strings.Contains(got.text, "Cancelado id:20") {
		t.Fatalf("got %q", got.text)
	}
	if items, _ := st.ListPending(ctx); len(items) != 0 {
		t.Fatalf("pending = %+v", items)
	}
}

func TestNukeBareNumberMeansLastN(t *testing.T) {
	b, ad, st := newTestBot(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		b.HandleUpdate(ctx, channelText(i, fmt.Sprintf("draft %d", i)))
	}
	b.HandleUpdate(ctx, channelText(9, "/nuke 2"))
	if got := ad.lastText(t); !strings.Contains(got.text, "Eliminados 2 borradores") {
		t.Fatalf("got %q", got.text)
	}
	items, _ := st.ListPending(ctx)
	if len(items) != 1 || items[0].ID != 1 {
		t.Fatalf("pending after nuke = %+v", items)
	}
}

func TestEnviarSummaryFoldsCounters(t *testing.T) {
	b, ad, _ := newTestBot(t)
	ctx := context.Background()
	b.HandleUpdate(ctx, channelText(1, "uno"))
	b.HandleUpdate(ctx, channelText(2, "dos"))
	b.HandleUpdate(ctx, channelText(3, "/cancelar 1"))
	b.HandleUpdate(ctx, channelText(4, "/enviar"))

	got := ad.lastText(t)
	if !strings.Contains(got.text, "✅ Publicados 1.") || !strings.Contains(got.text, "Cancelados: 1") {
		t.Fatalf("summary = %q", got.text)
	}
	// Counters drain into one summary only.
	b.HandleUpdate(ctx, channelText(5, "tres"))
	b.HandleUpdate(ctx, channelText(6, "/enviar"))
	got = ad.lastText(t)
	if strings.Contains(got.text, "Cancelados") {
		t.Fatalf("stale counters in %q", got.text)
	}
}

func TestPreviewDeliversWithoutConsuming(t *testing.T) {
	b, ad, st := newTestBot(t)
	ctx := context.Background()
	b.HandleUpdate(ctx, channelText(1, "uno"))
	b.HandleUpdate(ctx, channelText(2, "/preview"))

	if got := ad.lastText(t); !strings.Contains(got.text, "Preview: enviados 1, fallidos 0") {
		t.Fatalf("got %q", got.text)
	}
	ad.mu.Lock()
	copied := append([]transport.MessageRef(nil), ad.copies...)
	ad.mu.Unlock()
	if len(copied) != 1 || copied[0].ChatID != testPreview {
		t.Fatalf("copies = %+v", copied)
	}
	if items, _ := st.ListPending(ctx); len(items) != 1 {
		t.Fatal("preview consumed the queue")
	}
}

func TestProgramarInvalidFormat(t *testing.T) {
	b, ad, _ := newTestBot(t)
	b.HandleUpdate(context.Background(), channelText(1, "/programar mañana a la noche"))
	if got := ad.lastText(t); !strings.Contains(got.text, "Formato inválido") {
		t.Fatalf("got %q", got.text)
	}
}

func TestProgramarClaimsAndEnviarSkips(t *testing.T) {
	b, ad, st := newTestBot(t)
	ctx := context.Background()
	b.HandleUpdate(ctx, channelText(1, "uno"))
	b.HandleUpdate(ctx, channelText(2, "dos"))

	future := time.Now().Add(time.Hour).In(time.UTC)
	b.HandleUpdate(ctx, channelText(3, "/programar "+future.Format("2006-01-02 15:04")))
	if got := ad.lastText(t); !strings.Contains(got.text, "Programado para") {
		t.Fatalf("got %q", got.text)
	}

	b.HandleUpdate(ctx, channelText(4, "/enviar"))
	if got := ad.lastText(t); !strings.Contains(got.text, "✅ Publicados 0.") {
		t.Fatalf("claimed drafts were published: %q", got.text)
	}

	b.HandleUpdate(ctx, channelText(5, "/desprogramar all"))
	if got := ad.lastText(t); !strings.Contains(got.text, "Canceladas 1 programaciones") {
		t.Fatalf("got %q", got.text)
	}
	b.HandleUpdate(ctx, channelText(6, "/enviar"))
	if got := ad.lastText(t); !strings.Contains(got.text, "✅ Publicados 2.") {
		t.Fatalf("release after cancel failed: %q", got.text)
	}
	if items, _ := st.ListPending(ctx); len(items) != 0 {
		t.Fatalf("pending = %+v", items)
	}
}

func TestBackupCommand(t *testing.T) {
	b, ad, _ := newTestBot(t)
	ctx := context.Background()
	b.HandleUpdate(ctx, channelText(1, "/backup on"))
	if !b.targets.BackupOn() {
		t.Fatal("backup not enabled")
	}
	if got := ad.lastText(t); !strings.Contains(got.text, "Targets") {
		t.Fatalf("got %q", got.text)
	}
	b.HandleUpdate(ctx, channelText(2, "/backup nope"))
	if got := ad.lastText(t); got.text != "Usa: /backup on|off" {
		t.Fatalf("got %q", got.text)
	}
}

func TestUnknownCommand(t *testing.T) {
	b, ad, _ := newTestBot(t)
	b.HandleUpdate(context.Background(), channelText(1, "/frobnicate"))
	if got := ad.lastText(t); got.text != "Comando no reconocido. Usa /comandos." {
		t.Fatalf("got %q", got.text)
	}
}

func TestCallbackToggleBackup(t *testing.T) {
	b, ad, _ := newTestBot(t)
	b.HandleUpdate(context.Background(), transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{
		ID: "cb1", ChatID: testSource, MessageID: 7, Data: "m:toggle_backup",
	}})
	if !b.targets.BackupOn() {
		t.Fatal("toggle did not flip backup on")
	}
	if got := ad.lastText(t); !strings.Contains(got.text, "**ON**") {
		t.Fatalf("panel = %q", got.text)
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	cmd, arg := splitCommand("/Programar 2026-01-01 10:00")
	if cmd != "/programar" || arg != "2026-01-01 10:00" {
		t.Fatalf("got %q %q", cmd, arg)
	}
	cmd, arg = splitCommand("/listar@draftbot_test")
	if cmd != "/listar" || arg != "" {
		t.Fatalf("got %q %q", cmd, arg)
	}
}

func TestExtractID(t *testing.T) {
	t.Parallel()
	post := &transport.ChannelPost{ReplyTo: 33}
	if got := extractID(post, ""); got != 33 {
		t.Fatalf("reply fallback = %d", got)
	}
	if got := extractID(post, "id:44"); got != 44 {
		t.Fatalf("id token = %d", got)
	}
	if got := extractID(post, "quita el 55 porfa"); got != 55 {
		t.Fatalf("number token = %d", got)
	}
	if got := extractID(nil, ""); got != 0 {
		t.Fatalf("empty = %d", got)
	}
}

func TestJustificarPostsButton(t *testing.T) {
	b, ad, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, channelText(1, "/justificar 42"))
	if got := ad.lastText(t); !strings.Contains(got.text, "no están habilitadas") {
		t.Fatalf("expected disabled notice, got %q", got.text)
	}

	b.justify = NewJustifier(ad, int64(-100900), 0, logx.Nop())
	b.HandleUpdate(ctx, channelText(2, "/justificar 42"))
	got := ad.lastText(t)
	if got.chat != testSource || !strings.Contains(got.text, "id:42") {
		t.Fatalf("expected button post in source channel, got %+v", got)
	}

	b.HandleUpdate(ctx, channelText(3, "/justificar"))
	if got := ad.lastText(t); !strings.Contains(got.text, "Usa: /justificar") {
		t.Fatalf("expected usage, got %q", got.text)
	}
}

func TestPrivateCommandsRequireAdmin(t *testing.T) {
	b, ad, _ := newTestBot(t)
	b.admins = []int64{777}
	ctx := context.Background()

	b.HandleUpdate(ctx, channelText(10, "hola"))

	private := func(from int64, text string) transport.Update {
		return transport.Update{Kind: transport.UpdatePrivate, Private: &transport.PrivateMessage{
			ID: 1, ChatID: from, FromID: from, Text: text,
		}}
	}

	b.HandleUpdate(ctx, private(123, "/listar"))
	ad.mu.Lock()
	n := len(ad.sent)
	ad.mu.Unlock()
	if n != 0 {
		t.Fatalf("non-admin command answered, %d messages sent", n)
	}

	b.HandleUpdate(ctx, private(777, "/listar"))
	got := ad.lastText(t)
	if got.chat != testSource || !strings.Contains(got.text, "Borradores pendientes") {
		t.Fatalf("expected listing in staging channel, got %+v", got)
	}
}

func TestListarIncludesScheduledDrafts(t *testing.T) {
	b, ad, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleUpdate(ctx, channelText(10, "uno"))
	b.HandleUpdate(ctx, channelText(11, "dos"))
	b.HandleUpdate(ctx, channelText(1000, "/programar 2099-01-01 10:00"))

	b.HandleUpdate(ctx, channelText(1001, "/listar"))
	got := ad.lastText(t)
	if !strings.Contains(got.text, "id:10") || !strings.Contains(got.text, "id:11") {
		t.Fatalf("listing should keep claimed drafts visible, got %q", got.text)
	}
	if !strings.Contains(textMain(), "/listar — muestra borradores pendientes\n") {
		t.Fatalf("help text out of sync with listing behavior")
	}
}
