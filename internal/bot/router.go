// Package bot is the command surface: it routes channel posts, inline
// callbacks and private deep links to the store, the publishing pipeline and
// the schedule registry, replying in the staging channel.
package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"draftbot/internal/config"
	"draftbot/internal/draft"
	"draftbot/internal/publish"
	"draftbot/internal/schedule"
	"draftbot/internal/store"
	"draftbot/internal/transport"
	"draftbot/pkg/logx"
)

type Options struct {
	Adapter  transport.Adapter
	Store    *store.Store
	Pipeline *publish.Pipeline
	Registry *schedule.Registry
	Targets  *publish.Targets
	Channels config.ChannelsConfig
	Location *time.Location
	TZName   string
	Justify  *Justifier // nil disables deep-link deliveries
	Admins   []int64    // user ids allowed to run commands from the private chat
	Log      logx.Logger
}

// Bot holds the per-process command state: the outcome counters drained into
// the next publish summary and the notice/command cleanup timers.
type Bot struct {
	adapter  transport.Adapter
	store    *store.Store
	pipeline *publish.Pipeline
	registry *schedule.Registry
	targets  *publish.Targets
	channels config.ChannelsConfig
	loc      *time.Location
	tzName   string
	justify  *Justifier
	admins   []int64
	log      logx.Logger

	statsMu   sync.Mutex
	cancelled int
	removed   int

	now func() time.Time
}

func New(opt Options) *Bot {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := opt.Location
	if loc == nil {
		loc = time.Local
	}
	tz := opt.TZName
	if tz == "" {
		tz = loc.String()
	}
	return &Bot{
		adapter:  opt.Adapter,
		store:    opt.Store,
		pipeline: opt.Pipeline,
		registry: opt.Registry,
		targets:  opt.Targets,
		channels: opt.Channels,
		loc:      loc,
		tzName:   tz,
		justify:  opt.Justify,
		admins:   opt.Admins,
		log:      log,
		now:      time.Now,
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, u transport.Update) {
	switch u.Kind {
	case transport.UpdateChannelPost:
		if u.Post != nil {
			b.handleChannel(ctx, u.Post)
		}
	case transport.UpdateCallback:
		if u.Callback != nil {
			b.handleCallback(ctx, u.Callback)
		}
	case transport.UpdatePrivate:
		if u.Private != nil {
			b.handlePrivate(ctx, u.Private)
		}
	}
}

func (b *Bot) handleChannel(ctx context.Context, post *transport.ChannelPost) {
	if post.ChatID != b.channels.Source {
		return
	}
	text := strings.TrimSpace(post.Text)
	if strings.HasPrefix(text, "/") {
		b.dispatchCommand(ctx, post, text)
		b.deleteAfter(transport.MessageRef{ChatID: post.ChatID, MessageID: post.ID}, 2*time.Second)
		return
	}
	b.captureDraft(ctx, post)
}

func (b *Bot) captureDraft(ctx context.Context, post *transport.ChannelPost) {
	payload := draft.CopyPayload()
	if post.Poll != nil {
		payload = draft.PollPayload(*post.Poll)
	}
	blob, err := draft.EncodePayload(payload)
	if err != nil {
		b.log.Error("payload encode failed", logx.Int("id", post.ID), logx.Err(err))
		return
	}
	snippet := draft.Snippet(post.Text, post.Caption, payload)
	if err := b.store.Insert(ctx, post.ID, snippet, blob); err != nil {
		b.log.Error("draft insert failed", logx.Int("id", post.ID), logx.Err(err))
		return
	}
	b.log.Debug("draft captured", logx.Int("id", post.ID), logx.Bool("poll", payload.IsPoll()))
}

func (b *Bot) handlePrivate(ctx context.Context, msg *transport.PrivateMessage) {
	if b.justify != nil && b.justify.Handle(ctx, msg) {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") && b.isAdmin(msg.FromID) {
		// Admins can drive the bot from the private chat too; replies still
		// go to the staging channel so the trail stays in one place.
		b.dispatchCommand(ctx, nil, text)
		return
	}
	// Any other private traffic is ignored: the bot is driven from the channel.
}

func (b *Bot) isAdmin(id int64) bool {
	for _, a := range b.admins {
		if a == id {
			return true
		}
	}
	return false
}

func (b *Bot) handleCallback(ctx context.Context, cb *transport.Callback) {
	if err := b.adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
		b.log.Debug("callback ack failed", logx.Err(err))
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch cb.Data {
	case "m:list":
		b.cmdListar(ctx)
	case "m:send":
		b.cmdEnviar(ctx)
	case "m:preview":
		b.cmdPreview(ctx)
	case "m:sched":
		b.editPanel(ctx, ref, textSchedule(), kbSchedule(), "Markdown")
	case "m:settings":
		b.editPanel(ctx, ref, textSettings(b.channels, b.targets), kbSettings(), "Markdown")
	case "m:toggle_backup":
		b.targets.ToggleBackup()
		b.editPanel(ctx, ref, textSettings(b.channels, b.targets), kbSettings(), "Markdown")
	case "m:back":
		b.editPanel(ctx, ref, textMain(), kbMain(), "")
	case "s:list":
		b.cmdProgramados(ctx)
	case "s:clear":
		b.cmdDesprogramar(ctx, "all")
	case "s:custom":
		b.editPanel(ctx, ref, textScheduleCustom(), kbSchedule(), "Markdown")
	default:
		if when, ok := b.shortcutWhen(cb.Data); ok {
			b.scheduleAt(ctx, when)
		}
	}
}

// shortcutWhen resolves the quick-schedule callback tags.
func (b *Bot) shortcutWhen(data string) (time.Time, bool) {
	now := b.now().In(b.loc)
	switch data {
	case "s:+5":
		return now.Add(5 * time.Minute), true
	case "s:+15":
		return now.Add(15 * time.Minute), true
	case "s:today20":
		when := time.Date(now.Year(), now.Month(), now.Day(), 20, 0, 0, 0, b.loc)
		if !when.After(now) {
			when = when.AddDate(0, 0, 1)
		}
		return when, true
	case "s:tom07":
		tom := now.AddDate(0, 0, 1)
		return time.Date(tom.Year(), tom.Month(), tom.Day(), 7, 0, 0, 0, b.loc), true
	}
	return time.Time{}, false
}

func (b *Bot) editPanel(ctx context.Context, ref transport.MessageRef, text string, markup any, parseMode string) {
	opt := &transport.SendOptions{ParseMode: parseMode, ReplyMarkupAdapter: markup}
	if err := b.adapter.EditText(ctx, ref, text, opt); err != nil {
		b.log.Debug("panel edit failed", logx.Err(err))
	}
}

// send posts a reply in the staging channel.
func (b *Bot) send(ctx context.Context, text string) {
	if _, err := b.adapter.SendText(ctx, transport.ChatTarget{ChatID: b.channels.Source}, text, nil); err != nil {
		b.log.Warn("channel reply failed", logx.Err(err))
	}
}

func (b *Bot) sendPanel(ctx context.Context, text string, markup any, parseMode string) {
	opt := &transport.SendOptions{ParseMode: parseMode, ReplyMarkupAdapter: markup}
	if _, err := b.adapter.SendText(ctx, transport.ChatTarget{ChatID: b.channels.Source}, text, opt); err != nil {
		b.log.Warn("panel send failed", logx.Err(err))
	}
}

// tempNotice posts a silent notice and removes it after ttl.
func (b *Bot) tempNotice(ctx context.Context, text string, ttl time.Duration) {
	ref, err := b.adapter.SendText(ctx, transport.ChatTarget{ChatID: b.channels.Source}, text, &transport.SendOptions{Silent: true})
	if err != nil {
		return
	}
	b.deleteAfter(ref, ttl)
}

func (b *Bot) deleteAfter(ref transport.MessageRef, ttl time.Duration) {
	time.AfterFunc(ttl, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = b.adapter.Delete(ctx, ref)
	})
}

func (b *Bot) noteCancelled(n int) {
	b.statsMu.Lock()
	b.cancelled += n
	b.statsMu.Unlock()
}

func (b *Bot) noteRemoved(n int) {
	b.statsMu.Lock()
	b.removed += n
	b.statsMu.Unlock()
}

// drainStats returns and resets the counters folded into publish summaries.
func (b *Bot) drainStats() (cancelled, removed int) {
	b.statsMu.Lock()
	cancelled, removed = b.cancelled, b.removed
	b.cancelled, b.removed = 0, 0
	b.statsMu.Unlock()
	return cancelled, removed
}
