// Package telegram implements the transport adapter on top of telebot.
package telegram

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"draftbot/internal/draft"
	kit "draftbot/internal/transport"
	"draftbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	stopped chan struct{}

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged on stop to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		Poller: &tele.LongPoller{
			Timeout:        timeout,
			AllowedUpdates: []string{"channel_post", "message", "callback_query"},
		},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnChannelPost, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		post := &kit.ChannelPost{
			ID:      m.ID,
			ChatID:  m.Chat.ID,
			Text:    m.Text,
			Caption: m.Caption,
		}
		if m.ReplyTo != nil {
			post.ReplyTo = m.ReplyTo.ID
		}
		if m.Poll != nil {
			post.Poll = capturePoll(m.Poll)
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateChannelPost, Post: post})
		return nil
	})

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdatePrivate, Private: &kit.PrivateMessage{
			ID:     m.ID,
			ChatID: m.Chat.ID,
			FromID: m.Sender.ID,
			Text:   m.Text,
		}})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
			ID:        cb.ID,
			ChatID:    m.Chat.ID,
			MessageID: m.ID,
			Data:      strings.TrimSpace(cb.Data),
		}})
		return nil
	})
}

// capturePoll snapshots poll fields at ingestion; the platform does not let us
// re-read them at publish time.
func capturePoll(p *tele.Poll) *draft.Poll {
	opts := make([]string, 0, len(p.Options))
	for _, o := range p.Options {
		opts = append(opts, o.Text)
	}
	d := draft.Poll{
		Question:       p.Question,
		Options:        opts,
		Anonymous:      p.Anonymous,
		AllowsMultiple: p.MultipleAnswers,
		Quiz:           p.Type == tele.PollQuiz,
		CorrectOption:  p.CorrectOption,
		Explanation:    p.Explanation,
		OpenPeriod:     p.OpenPeriod,
		CloseDate:      p.CloseUnixdate,
	}
	n := d.Normalized()
	return &n
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.stopped = make(chan struct{})
	stopped := a.stopped
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	go func() {
		defer close(stopped)
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	stopped := a.stopped
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)))
	}

	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-stopped:
	case <-time.After(grace):
		a.log.Warn("telegram stop timed out")
	}
	return nil
}

func (a *Adapter) BotUsername() string {
	if a.bot != nil && a.bot.Me != nil {
		return a.bot.Me.Username
	}
	return ""
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
	}
	if opt.ReplyMarkupAdapter != nil {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
			sendOpt.ReplyMarkup = rm
		}
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	sendOpt := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview}
	if opt.ReplyMarkupAdapter != nil {
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
			sendOpt.ReplyMarkup = rm
		}
	}
	_, err := a.bot.Edit(storedMessage(ref.ChatID, ref.MessageID), text, sendOpt)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (a *Adapter) CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.ChatTarget, messageID int, protected bool) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	opt := &tele.SendOptions{Protected: protected}
	msg, err := a.bot.Copy(&tele.Chat{ID: to.ChatID}, storedMessage(from.ChatID, messageID), opt)
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendPoll(ctx context.Context, to kit.ChatTarget, p draft.Poll) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	p = p.Normalized()
	opts := make([]tele.PollOption, 0, len(p.Options))
	for _, o := range p.Options {
		opts = append(opts, tele.PollOption{Text: o})
	}
	poll := &tele.Poll{
		Type:            tele.PollRegular,
		Question:        p.Question,
		Options:         opts,
		Anonymous:       p.Anonymous,
		MultipleAnswers: p.AllowsMultiple,
		OpenPeriod:      p.OpenPeriod,
		CloseUnixdate:   p.CloseDate,
	}
	if p.Quiz {
		poll.Type = tele.PollQuiz
		poll.CorrectOption = p.CorrectOption
		poll.Explanation = p.Explanation
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, poll)
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) Delete(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.Delete(storedMessage(ref.ChatID, ref.MessageID)); err != nil {
		return classify(err)
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func storedMessage(chatID int64, messageID int) tele.Editable {
	return &tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
}

// classify maps telebot/network errors onto the transport taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		wait := time.Duration(flood.RetryAfter) * time.Second
		if wait <= 0 {
			wait = kit.ParseRetryHint(err.Error(), 3*time.Second)
		}
		return &kit.RateLimitedError{RetryAfter: wait, Err: err}
	}

	msg := err.Error()
	if strings.Contains(msg, "Flood control exceeded") || strings.Contains(msg, "Too Many Requests") {
		return &kit.RateLimitedError{RetryAfter: kit.ParseRetryHint(msg, 5*time.Second), Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &kit.TransientError{Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return &kit.TransientError{Err: err}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return &kit.TransientError{Err: err}
	}
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "i/o timeout") {
		return &kit.TransientError{Err: err}
	}

	// Permanent request error (message gone, no rights, bad request, ...).
	return err
}
