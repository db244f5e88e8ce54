package bot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"draftbot/internal/transport"
	"draftbot/pkg/logx"
)

var justStartRe = regexp.MustCompile(`^/start just_(\d+)$`)

// Justifier delivers single protected items from a dedicated justifications
// channel via "/start just_<id>" deep links. Copies are protected against
// forwarding and auto-deleted after the configured TTL.
type Justifier struct {
	adapter transport.Adapter
	channel int64
	ttl     time.Duration
	log     logx.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer // "<user>_<message>" -> pending auto-delete
}

func NewJustifier(adapter transport.Adapter, channel int64, ttl time.Duration, log logx.Logger) *Justifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Justifier{
		adapter: adapter,
		channel: channel,
		ttl:     ttl,
		log:     log,
		timers:  make(map[string]*time.Timer),
	}
}

// Handle processes a private message if it is a justification deep link.
// Returns false when the message is not one, so the caller can route it
// elsewhere.
func (j *Justifier) Handle(ctx context.Context, msg *transport.PrivateMessage) bool {
	m := justStartRe.FindStringSubmatch(msg.Text)
	if m == nil {
		return false
	}
	user := transport.ChatTarget{ChatID: msg.ChatID}
	id, err := strconv.Atoi(m[1])
	if err != nil || id <= 0 {
		j.reply(ctx, user, "❌ Link de justificación inválido. Verifica que el enlace sea correcto.")
		return true
	}
	log := j.log.With(logx.Int("justification", id), logx.Int64("user", msg.FromID))

	processing, perr := j.adapter.SendText(ctx, user, "🔄 Obteniendo justificación...", &transport.SendOptions{Silent: true})

	copied, err := j.adapter.CopyMessage(ctx, user, transport.ChatTarget{ChatID: j.channel}, id, true)
	if perr == nil {
		_ = j.adapter.Delete(ctx, processing)
	}
	if err != nil {
		log.Warn("justification delivery failed", logx.Err(err))
		j.reply(ctx, user, "❌ No se pudo obtener la justificación. Puede que el enlace sea inválido o haya un problema temporal.")
		return true
	}
	log.Info("justification delivered", logx.Int("copy", copied.MessageID))

	text := "✅ Justificación enviada con protección anti-copia."
	if j.ttl > 0 {
		text += fmt.Sprintf("\n🕐 Se eliminará automáticamente en %d minutos.", int(j.ttl.Minutes()))
		j.armAutoDelete(copied)
	}
	j.reply(ctx, user, text)
	return true
}

func (j *Justifier) armAutoDelete(copy transport.MessageRef) {
	key := fmt.Sprintf("%d_%d", copy.ChatID, copy.MessageID)
	j.mu.Lock()
	defer j.mu.Unlock()
	if old, ok := j.timers[key]; ok {
		old.Stop()
	}
	j.timers[key] = time.AfterFunc(j.ttl, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.adapter.Delete(ctx, copy); err == nil {
			j.reply(ctx, transport.ChatTarget{ChatID: copy.ChatID},
				"🕐 La justificación se ha eliminado automáticamente por seguridad.")
		}
		j.mu.Lock()
		delete(j.timers, key)
		j.mu.Unlock()
	})
}

// Active reports how many delivered copies still await auto-delete.
func (j *Justifier) Active() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.timers)
}

// Stop drops all pending auto-delete timers (the copies stay).
func (j *Justifier) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for key, t := range j.timers {
		t.Stop()
		delete(j.timers, key)
	}
}

func (j *Justifier) reply(ctx context.Context, to transport.ChatTarget, text string) {
	if _, err := j.adapter.SendText(ctx, to, text, &transport.SendOptions{Silent: true}); err != nil {
		j.log.Debug("justification reply failed", logx.Err(err))
	}
}
