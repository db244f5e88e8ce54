package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"draftbot/internal/publish"
	"draftbot/internal/schedule"
	"draftbot/internal/transport"
	"draftbot/pkg/logx"
)

func (b *Bot) dispatchCommand(ctx context.Context, post *transport.ChannelPost, text string) {
	cmd, arg := splitCommand(text)

	switch cmd {
	case "/listar", "/lista":
		b.cmdListar(ctx)
	case "/enviar":
		b.cmdEnviar(ctx)
	case "/preview":
		b.cmdPreview(ctx)
	case "/programar":
		b.cmdProgramar(ctx, arg)
	case "/programados":
		b.cmdProgramados(ctx)
	case "/desprogramar":
		b.cmdDesprogramar(ctx, arg)
	case "/cancelar":
		b.cmdCancelar(ctx, post, arg)
	case "/deshacer", "/undo":
		b.cmdDeshacer(ctx, post, arg)
	case "/eliminar", "/del", "/delete", "/remove", "/borrar":
		b.cmdEliminar(ctx, post, arg)
	case "/nuke":
		b.cmdNuke(ctx, arg)
	case "/id":
		b.cmdID(ctx, post, arg)
	case "/justificar", "/just":
		b.cmdJustificar(ctx, post, arg)
	case "/canales", "/targets", "/where":
		b.cmdCanales(ctx)
	case "/backup":
		b.cmdBackup(ctx, arg)
	case "/comandos", "/comando", "/ayuda", "/start":
		b.sendPanel(ctx, textMain(), kbMain(), "")
	default:
		b.send(ctx, "Comando no reconocido. Usa /comandos.")
	}
}

// splitCommand lowercases the verb and strips an "@botname" suffix.
func splitCommand(text string) (cmd, arg string) {
	cmd = text
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		cmd, arg = text[:i], strings.TrimSpace(text[i+1:])
	}
	cmd = strings.ToLower(cmd)
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, arg
}

// extractID resolves the draft id a command refers to: an explicit number or
// "id:N" token in the argument, else the replied-to message.
func extractID(post *transport.ChannelPost, arg string) int {
	for _, tok := range strings.Fields(arg) {
		if n, err := strconv.Atoi(tok); err == nil && n > 0 {
			return n
		}
		low := strings.ToLower(tok)
		if rest, ok := strings.CutPrefix(low, "id:"); ok {
			if n, err := strconv.Atoi(rest); err == nil && n > 0 {
				return n
			}
		}
	}
	if post != nil {
		return post.ReplyTo
	}
	return 0
}

func (b *Bot) cmdListar(ctx context.Context) {
	items, err := b.store.ListPending(ctx)
	if err != nil {
		b.log.Error("list failed", logx.Err(err))
		b.send(ctx, "⚠️ No pude leer la cola.")
		return
	}
	if len(items) == 0 {
		b.send(ctx, "📁 No hay borradores.")
		return
	}
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, "📋 Borradores pendientes:")
	for i, it := range items {
		s := strings.TrimSpace(it.Snippet)
		if s == "" {
			s = "[contenido]"
		}
		if len([]rune(s)) > 60 {
			s = string([]rune(s)[:60]) + "…"
		}
		lines = append(lines, fmt.Sprintf("• %2d — %s  (id:%d)", i+1, s, it.ID))
	}
	b.send(ctx, strings.Join(lines, "\n"))
}

func (b *Bot) cmdEnviar(ctx context.Context) {
	b.tempNotice(ctx, "⏳ Procesando envío…", 4*time.Second)
	rep, err := b.pipeline.PublishPending(ctx)
	if err != nil {
		b.log.Error("publish failed", logx.Err(err))
		b.send(ctx, "⚠️ No se pudo completar el envío.")
		return
	}
	b.send(ctx, b.publishSummary(rep))
}

func (b *Bot) cmdPreview(ctx context.Context) {
	if b.channels.Preview == 0 {
		b.send(ctx, "⚠️ No hay canal de preview configurado.")
		return
	}
	b.tempNotice(ctx, "⏳ Generando preview…", 3*time.Second)
	rep, err := b.pipeline.Preview(ctx)
	if err != nil {
		b.log.Error("preview failed", logx.Err(err))
		b.send(ctx, "⚠️ No se pudo generar el preview.")
		return
	}
	b.send(ctx, fmt.Sprintf("🧪 Preview: enviados %d, fallidos %d.", rep.Published, rep.Failed))
}

// publishSummary folds the cancel/delete counters accumulated since the last
// pass into the outcome line, then resets them.
func (b *Bot) publishSummary(rep publish.Report) string {
	cancelled, removed := b.drainStats()
	var extras []string
	if cancelled > 0 {
		extras = append(extras, fmt.Sprintf("Cancelados: %d", cancelled))
	}
	if removed > 0 {
		extras = append(extras, fmt.Sprintf("Eliminados: %d", removed))
	}
	if rep.Failed > 0 {
		extras = append(extras, fmt.Sprintf("Fallidos: %d", rep.Failed))
	}
	out := fmt.Sprintf("✅ Publicados %d.", rep.Published)
	if len(extras) > 0 {
		out += "\n📦 " + strings.Join(extras, " · ") + "."
	}
	return out
}

func (b *Bot) cmdProgramar(ctx context.Context, arg string) {
	when, ok := ParseWhen(arg, b.loc)
	if !ok {
		b.send(ctx, "❌ Formato inválido. Usa: /programar YYYY-MM-DD HH:MM  (formato 24 h)")
		return
	}
	b.scheduleAt(ctx, when)
}

// scheduleAt claims the drafts currently pending (minus ids some other job
// already holds) and arms a job for them.
func (b *Bot) scheduleAt(ctx context.Context, when time.Time) {
	items, err := b.store.ListPending(ctx)
	if err != nil {
		b.log.Error("list failed", logx.Err(err))
		b.send(ctx, "⚠️ No pude leer la cola.")
		return
	}
	var ids []int
	for _, it := range items {
		if !b.registry.Locked(it.ID) {
			ids = append(ids, it.ID)
		}
	}
	if len(ids) == 0 {
		b.tempNotice(ctx, "📭 No hay borradores para programar.", 6*time.Second)
		return
	}
	jobID, err := b.registry.Schedule(when, ids)
	if err != nil {
		b.log.Warn("schedule rejected", logx.Err(err))
		b.send(ctx, "❌ No se pudo programar.")
		return
	}
	eta := schedule.HumanETA(when.Sub(b.now()))
	b.send(ctx, fmt.Sprintf("🗓️ Programado para %s (%s) — %s.  (id prog: %d)",
		when.In(b.loc).Format(whenLayout), b.tzName, eta, jobID))
}

func (b *Bot) cmdProgramados(ctx context.Context) {
	jobs := b.registry.List()
	if len(jobs) == 0 {
		b.send(ctx, "📭 No hay programaciones pendientes.")
		return
	}
	lines := make([]string, 0, len(jobs)+1)
	lines = append(lines, "🗒 Programaciones pendientes:")
	for _, j := range jobs {
		lines = append(lines, fmt.Sprintf("• #%d — %s (%s) — %s — %d mensajes",
			j.ID, j.When.In(b.loc).Format(whenLayout), b.tzName, j.ETA, len(j.IDs)))
	}
	b.send(ctx, strings.Join(lines, "\n"))
}

func (b *Bot) cmdDesprogramar(ctx context.Context, arg string) {
	v := strings.ToLower(strings.TrimSpace(arg))
	switch {
	case v == "all" || v == "todos":
		n := b.registry.CancelAll()
		b.send(ctx, fmt.Sprintf("❌ Canceladas %d programaciones.", n))
	case v != "" && isDigits(v):
		id, _ := strconv.Atoi(v)
		if b.registry.Cancel(id) {
			b.send(ctx, fmt.Sprintf("❌ Cancelada la programación #%d.", id))
		} else {
			b.send(ctx, fmt.Sprintf("No existe la programación #%d.", id))
		}
	default:
		b.send(ctx, "Usa: /desprogramar <id|all>")
	}
}

func (b *Bot) cmdCancelar(ctx context.Context, post *transport.ChannelPost, arg string) {
	id := extractID(post, arg)
	if id == 0 {
		b.send(ctx, "Usa: /cancelar <id> (o responde al mensaje)")
		return
	}
	changed, err := b.store.SoftDelete(ctx, id)
	if err != nil {
		b.log.Error("soft delete failed", logx.Int("id", id), logx.Err(err))
		b.send(ctx, "⚠️ No pude cancelar ese borrador.")
		return
	}
	if !changed {
		b.send(ctx, fmt.Sprintf("No encontré ese borrador (id:%d).", id))
		return
	}
	b.noteCancelled(1)
	b.send(ctx, fmt.Sprintf("🚫 Cancelado id:%d. Usa /deshacer para revertir.", id))
}

func (b *Bot) cmdDeshacer(ctx context.Context, post *transport.ChannelPost, arg string) {
	id := extractID(post, arg)
	if id == 0 {
		last, found, err := b.store.LastSoftDeleted(ctx)
		if err != nil {
			b.log.Error("undo lookup failed", logx.Err(err))
			b.send(ctx, "⚠️ No pude buscar el último cancelado.")
			return
		}
		if !found {
			b.send(ctx, "📭 Nada que deshacer.")
			return
		}
		id = last
	}
	changed, err := b.store.Restore(ctx, id)
	if err != nil {
		b.log.Error("restore failed", logx.Int("id", id), logx.Err(err))
		b.send(ctx, "⚠️ No pude restaurar ese borrador.")
		return
	}
	if !changed {
		b.send(ctx, fmt.Sprintf("No encontré ese borrador (id:%d).", id))
		return
	}
	b.send(ctx, fmt.Sprintf("↩️ Restaurado id:%d.", id))
}

func (b *Bot) cmdEliminar(ctx context.Context, post *transport.ChannelPost, arg string) {
	id := extractID(post, arg)
	if id == 0 {
		b.send(ctx, "Usa: /eliminar <id> (o responde al mensaje)")
		return
	}
	// Channel removal is best-effort; the row is the source of truth.
	if err := b.adapter.Delete(ctx, transport.MessageRef{ChatID: b.channels.Source, MessageID: id}); err != nil {
		b.log.Debug("channel delete failed", logx.Int("id", id), logx.Err(err))
	}
	changed, err := b.store.HardDelete(ctx, id)
	if err != nil {
		b.log.Error("hard delete failed", logx.Int("id", id), logx.Err(err))
		b.send(ctx, "⚠️ No pude eliminar ese borrador.")
		return
	}
	if !changed {
		b.send(ctx, fmt.Sprintf("No encontré ese borrador (id:%d).", id))
		return
	}
	b.noteRemoved(1)
	b.send(ctx, fmt.Sprintf("🗑️ Eliminado id:%d (canal y cola).", id))
}

func (b *Bot) cmdNuke(ctx context.Context, arg string) {
	if strings.TrimSpace(arg) == "" {
		b.send(ctx, "Usa: /nuke all|todos | 1,3,5 | 1-10 | N (últimos)")
		return
	}
	items, err := b.store.ListPending(ctx)
	if err != nil {
		b.log.Error("list failed", logx.Err(err))
		b.send(ctx, "⚠️ No pude leer la cola.")
		return
	}
	pending := make([]int, len(items))
	for i, it := range items {
		pending[i] = it.ID
	}
	selected := ParseSelection(arg, pending)
	if len(selected) == 0 {
		b.send(ctx, "No hay coincidencias para esa selección.")
		return
	}
	removed := 0
	for _, id := range selected {
		if err := b.adapter.Delete(ctx, transport.MessageRef{ChatID: b.channels.Source, MessageID: id}); err != nil {
			b.log.Debug("channel delete failed", logx.Int("id", id), logx.Err(err))
		}
		changed, err := b.store.HardDelete(ctx, id)
		if err != nil {
			b.log.Error("hard delete failed", logx.Int("id", id), logx.Err(err))
			continue
		}
		if changed {
			removed++
		}
	}
	b.noteRemoved(removed)
	b.send(ctx, fmt.Sprintf("💣 Eliminados %d borradores.", removed))
}

func (b *Bot) cmdID(ctx context.Context, post *transport.ChannelPost, arg string) {
	id := extractID(post, arg)
	if id == 0 {
		b.send(ctx, "Usa: /id <id> (o responde a un mensaje)")
		return
	}
	row, found, err := b.store.Get(ctx, id)
	if err != nil {
		b.log.Error("get failed", logx.Int("id", id), logx.Err(err))
		b.send(ctx, "⚠️ No pude consultar ese id.")
		return
	}
	if !found {
		b.send(ctx, fmt.Sprintf("ℹ️ id:%d — no está en la cola.\nEnlace: %s",
			id, ChannelDeepLink(b.channels.Source, id)))
		return
	}
	state := "pendiente"
	switch {
	case row.Deleted:
		state = "cancelado"
	case row.Sent:
		state = "enviado"
	}
	b.send(ctx, fmt.Sprintf("ℹ️ id:%d — %s (%s)\nEnlace: %s",
		row.ID, row.Snippet, state, ChannelDeepLink(b.channels.Source, row.ID)))
}

// cmdJustificar posts a button whose deep link delivers a protected copy of
// an item from the justifications channel.
func (b *Bot) cmdJustificar(ctx context.Context, post *transport.ChannelPost, arg string) {
	if b.justify == nil {
		b.send(ctx, "⚠️ Las justificaciones no están habilitadas.")
		return
	}
	id := extractID(post, arg)
	if id == 0 {
		b.send(ctx, "Usa: /justificar <id> (id del mensaje en el canal de justificaciones)")
		return
	}
	username := b.adapter.BotUsername()
	if username == "" {
		b.send(ctx, "⚠️ No pude construir el enlace de justificación.")
		return
	}
	b.sendPanel(ctx, fmt.Sprintf("🔒 Justificación disponible (id:%d):", id), kbJustify(username, id), "")
}

func (b *Bot) cmdCanales(ctx context.Context) {
	backupState := "OFF"
	if b.targets.BackupOn() {
		backupState = "ON"
	}
	b.send(ctx, fmt.Sprintf(
		"📺 Canales:\n"+
			"• Borrador : %d\n"+
			"• Principal: %d (ON)\n"+
			"• Backup   : %d (%s)\n"+
			"• Preview  : %d",
		b.channels.Source, b.channels.Primary, b.channels.Backup, backupState, b.channels.Preview))
}

func (b *Bot) cmdBackup(ctx context.Context, arg string) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "on", "1", "true", "si", "sí":
		b.targets.SetBackup(true)
	case "off", "0", "false", "no":
		b.targets.SetBackup(false)
	default:
		b.send(ctx, "Usa: /backup on|off")
		return
	}
	b.sendPanel(ctx, textSettings(b.channels, b.targets), kbSettings(), "Markdown")
}

// RunScheduled is the registry runner: it publishes the claimed ids and
// reports the outcome in the staging channel.
func (b *Bot) RunScheduled(ctx context.Context, ids []int) {
	rep, err := b.pipeline.PublishByIDs(ctx, ids, true)
	if err != nil {
		b.log.Error("scheduled publish failed", logx.Err(err))
		b.send(ctx, "⚠️ La programación falló al publicar.")
		return
	}
	cancelled, removed := b.drainStats()
	var extras []string
	if cancelled > 0 {
		extras = append(extras, fmt.Sprintf("Cancelados: %d", cancelled))
	}
	if removed > 0 {
		extras = append(extras, fmt.Sprintf("Eliminados: %d", removed))
	}
	if rep.Failed > 0 {
		extras = append(extras, fmt.Sprintf("Fallidos: %d", rep.Failed))
	}
	msg := fmt.Sprintf("⏱️ Programación ejecutada. Publicados %d.", rep.Published)
	if len(extras) > 0 {
		msg += " " + strings.Join(extras, " · ") + "."
	}
	b.send(ctx, msg)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
