package bot

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	"draftbot/internal/config"
	"draftbot/internal/publish"
)

// Callback data uses raw "m:*" (menu) and "s:*" (schedule shortcut) tags so
// the router can dispatch without telebot's unique-button plumbing.

func kbMain() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
		{{Text: "📋 Listar", Data: "m:list"}, {Text: "📦 Enviar", Data: "m:send"}},
		{{Text: "🧪 Preview", Data: "m:preview"}, {Text: "⏰ Programar", Data: "m:sched"}},
		{{Text: "⚙️ Ajustes", Data: "m:settings"}},
	}}
}

func kbSettings() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
		{{Text: "🔀 Backup ON/OFF", Data: "m:toggle_backup"}},
		{{Text: "⬅️ Volver", Data: "m:back"}},
	}}
}

func kbSchedule() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
		{{Text: "⏳ +5 min", Data: "s:+5"}, {Text: "⏳ +15 min", Data: "s:+15"}},
		{{Text: "🕗 Hoy 20:00", Data: "s:today20"}, {Text: "🌅 Mañana 07:00", Data: "s:tom07"}},
		{{Text: "🗒 Ver programados", Data: "s:list"}, {Text: "❌ Cancelar todos", Data: "s:clear"}},
		{{Text: "✍️ Custom", Data: "s:custom"}, {Text: "⬅️ Volver", Data: "m:back"}},
	}}
}

func kbJustify(botUsername string, messageID int) *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
		{{Text: "Ver justificación 🔒", URL: JustifyDeepLink(botUsername, messageID)}},
	}}
}

func textMain() string {
	return "🛠️ Comandos:\n" +
		"• /listar — muestra borradores pendientes\n" +
		"• /cancelar <id> — o responde con /cancelar (quita de la cola sin borrar del canal)\n" +
		"• /deshacer [id] — revierte un /cancelar (o responde)\n" +
		"• /eliminar <id> — o responde (BORRA del canal y de la cola)  [alias: /del, /delete, /remove, /borrar]\n" +
		"• /nuke all|todos | /nuke 1,3,5 | /nuke 1-10 | /nuke N(últimos)\n" +
		"• /enviar — publica ahora a targets activos (los programados NO se mezclan)\n" +
		"• /preview — manda la cola a PREVIEW sin marcar como enviada\n" +
		"• /programar YYYY-MM-DD HH:MM — programa lo que está en /listar (formato 24h, sin AM/PM)\n" +
		"• /programados — muestra programaciones pendientes y cuánto falta\n" +
		"• /desprogramar <id|all> — cancela por id o todas\n" +
		"• /id [id] — info del mensaje o, si respondes, te dice el ID\n" +
		"• /justificar <id> — publica el botón de justificación protegida (alias: /just)\n" +
		"• /canales — IDs + estado de targets (alias: /targets, /where)\n" +
		"• /backup on|off — alterna SOLO el backup (principal siempre ON)\n\n" +
		"Pulsa un botón o usa /comandos para volver a ver este panel."
}

func textSettings(ch config.ChannelsConfig, targets *publish.Targets) string {
	onoff := "OFF"
	if targets.BackupOn() {
		onoff = "ON"
	}
	return fmt.Sprintf(
		"📡 **Targets**\n"+
			"• Principal: `%d` **ON** (fijo)\n"+
			"• Backup   : `%d` **%s**\n"+
			"• Preview  : `%d`\n\n"+
			"Usa el botón para alternar backup.\n"+
			"⬅️ *Volver* regresa al menú principal.",
		ch.Primary, ch.Backup, onoff, ch.Preview,
	)
}

func textSchedule() string {
	return "⏰ Programar envío de **los borradores actuales**.\n" +
		"Elige un atajo o usa `/programar YYYY-MM-DD HH:MM` (formato 24h: 00:00–23:59, sin AM/PM).\n" +
		"⚠️ Si no hay borradores, no se programa nada."
}

func textScheduleCustom() string {
	return "✍️ Formato manual:\n`/programar YYYY-MM-DD HH:MM` (formato 24 h)\n\n⬅️ Usa *Volver* para regresar."
}
