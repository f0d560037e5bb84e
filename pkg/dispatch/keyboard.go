package dispatch

import (
	"strings"
	"unicode/utf8"

	"github.com/vennec/tgcourier/pkg/telegram"
)

const (
	keyboardItemsPerRow = 3
	keyboardLabelMax    = 14
)

// buttonLabel turns "/set_sell_price" into "Set sell price", truncated to
// the keyboard label budget.
func buttonLabel(identifier string) string {
	label := strings.TrimPrefix(identifier, "/")
	label = strings.ReplaceAll(label, "_", " ")
	if label == "" {
		return identifier
	}
	first, size := utf8.DecodeRuneInString(label)
	label = strings.ToUpper(string(first)) + label[size:]
	return truncate(label, keyboardLabelMax)
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}

// keyboardReply builds an inline-keyboard reply where each entry's callback
// data is its identifier (a command or menu name).
func keyboardReply(title string, identifiers []string) Reply {
	var buttons []telegram.InlineKeyboardButton
	for _, id := range identifiers {
		buttons = append(buttons, telegram.InlineKeyboardButton{
			Text:         buttonLabel(id),
			CallbackData: id,
		})
	}

	var rows [][]telegram.InlineKeyboardButton
	for len(buttons) > 0 {
		n := keyboardItemsPerRow
		if n > len(buttons) {
			n = len(buttons)
		}
		rows = append(rows, buttons[:n])
		buttons = buttons[n:]
	}

	markup := telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
	return Reply{Text: title, ReplyMarkup: markup.Marshal()}
}
