package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"
)

// DecisionKeyboard returns the Approve/Deny keyboard for a pending request
func DecisionKeyboard(requestID string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✅ Approve", CallbackData: fmt.Sprintf("approve:%s", requestID)},
				{Text: "🚫 Deny", CallbackData: fmt.Sprintf("deny:%s", requestID)},
			},
		},
	}
}
