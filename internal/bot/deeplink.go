package bot

import (
	"fmt"
	"strings"
)

// ChannelDeepLink builds the t.me link for a message in a private channel.
func ChannelDeepLink(chatID int64, messageID int) string {
	cid := fmt.Sprintf("%d", chatID)
	cid = strings.TrimPrefix(cid, "-100")
	return fmt.Sprintf("https://t.me/c/%s/%d", cid, messageID)
}

// JustifyDeepLink builds the bot start link that delivers one protected item.
func JustifyDeepLink(botUsername string, messageID int) string {
	return fmt.Sprintf("https://t.me/%s?start=just_%d", botUsername, messageID)
}
