package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/rignes/walletgate/internal/config"
	"github.com/rignes/walletgate/internal/linkwait"
	"github.com/rignes/walletgate/internal/protocol"
	"github.com/rignes/walletgate/internal/registry"
)

// Approver is the decision side of the approval engine.
type Approver interface {
	Approve(ctx context.Context, id string)
	Deny(ctx context.Context, id string)
}

// Bot is the human approval surface. Each surfaced request becomes a
// message in the owner's chat with Approve/Deny buttons; decisions route
// back into the engine.
type Bot struct {
	bot      *bot.Bot
	cfg      *config.Config
	registry *registry.Registry
	approver Approver
	links    *linkwait.Supervisor
	log      *slog.Logger
}

// New creates the approval bot
func New(cfg *config.Config, reg *registry.Registry, approver Approver, links *linkwait.Supervisor, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:      cfg,
		registry: reg,
		approver: approver,
		links:    links,
		log:      log,
	}

	opts := []bot.Option{
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	// Register command handlers
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/pending", bot.MatchTypeExact, b.pendingHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/link", bot.MatchTypePrefix, b.linkHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/retry", bot.MatchTypeExact, b.retryHandler)

	return b, nil
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// SurfaceRequest pushes a pending request to the owner chat for a
// decision.
func (b *Bot) SurfaceRequest(ctx context.Context, req *protocol.Request) {
	b.sendMessage(ctx, b.cfg.OwnerChatID, formatRequest(req), DecisionKeyboard(req.ID))
}

// NotifyBalanceChanged tells the owner that a settlement moved the wallet
// balance.
func (b *Bot) NotifyBalanceChanged(ctx context.Context) {
	b.sendMessage(ctx, b.cfg.OwnerChatID, "💰 Wallet balance updated", nil)
}

// NotifyDataRefresh is called after deferred records reach the store. The
// chat has no view to refresh, so this only logs.
func (b *Bot) NotifyDataRefresh(ctx context.Context) {
	b.log.Debug("activity data refreshed")
}

// NotifyLinkState reports link-flow transitions to the owner chat. Wire it
// to the supervisor's change callback.
func (b *Bot) NotifyLinkState(state linkwait.State, serviceKey string) {
	ctx := context.Background()
	switch state {
	case linkwait.StateLoading:
		b.sendMessage(ctx, b.cfg.OwnerChatID,
			fmt.Sprintf("⏳ Waiting for login from <code>%s</code>…", serviceKey), nil)
	case linkwait.StateIdle:
		b.sendMessage(ctx, b.cfg.OwnerChatID, "✅ Service connected", nil)
	case linkwait.StateFailed:
		b.sendMessage(ctx, b.cfg.OwnerChatID,
			"❌ No login arrived in time. Send /retry to wait again.", nil)
	}
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || !b.fromOwner(update.Message.From.ID) {
		return
	}

	text := "🔐 <b>walletgate</b>\n\n" +
		"I surface authorization and payment requests from connected services.\n\n" +
		"• /pending — list requests awaiting a decision\n" +
		"• /link &lt;npub&gt; — wait for a login from a scanned service\n" +
		"• /retry — re-arm a timed-out link flow"
	b.sendMessage(ctx, update.Message.Chat.ID, text, nil)
}

func (b *Bot) pendingHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || !b.fromOwner(update.Message.From.ID) {
		return
	}

	pending := b.registry.List()
	if len(pending) == 0 {
		b.sendMessage(ctx, update.Message.Chat.ID, "No pending requests.", nil)
		return
	}

	for _, req := range pending {
		b.sendMessage(ctx, update.Message.Chat.ID, formatRequest(req), DecisionKeyboard(req.ID))
	}
}

func (b *Bot) linkHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || !b.fromOwner(update.Message.From.ID) {
		return
	}

	arg := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/link"))
	if arg == "" {
		b.sendMessage(ctx, update.Message.Chat.ID,
			"Usage: <code>/link npub…</code>", nil)
		return
	}

	b.links.Expect(arg)
}

func (b *Bot) retryHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || !b.fromOwner(update.Message.From.ID) {
		return
	}
	b.links.Retry()
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	if !b.fromOwner(cb.From.ID) {
		b.log.Warn("callback from non-owner", "user_id", cb.From.ID)
		return
	}

	data := cb.Data
	switch {
	case strings.HasPrefix(data, "approve:"):
		id := strings.TrimPrefix(data, "approve:")
		b.approver.Approve(ctx, id)
		b.editMessage(ctx, cb.Message, "✅ Approved", nil)
	case strings.HasPrefix(data, "deny:"):
		id := strings.TrimPrefix(data, "deny:")
		b.approver.Deny(ctx, id)
		b.editMessage(ctx, cb.Message, "🚫 Denied", nil)
	default:
		b.log.Warn("unknown callback", "data", data)
	}
}

func (b *Bot) fromOwner(userID int64) bool {
	return b.cfg.OwnerChatID != 0 && userID == b.cfg.OwnerChatID
}

func formatRequest(req *protocol.Request) string {
	key := shortKey(req.ServiceKey)

	switch c := req.Content.(type) {
	case *protocol.LoginContent:
		return fmt.Sprintf("🔑 <b>Login request</b>\n\nService: <code>%s</code>", key)
	case *protocol.PaymentContent:
		return fmt.Sprintf(
			"⚡ <b>Payment request</b>\n\nService: <code>%s</code>\nAmount: <b>%d %s</b>",
			key, protocol.MsatToSat(c.AmountMsat), protocol.CurrencyUnit(c.Currency),
		)
	case *protocol.SubscriptionContent:
		return fmt.Sprintf(
			"🔁 <b>Subscription request</b>\n\nService: <code>%s</code>\nAmount: <b>%d %s</b> (%s)",
			key, protocol.MsatToSat(c.AmountMsat), protocol.CurrencyUnit(c.Currency), c.Recurrence.Calendar,
		)
	case *protocol.TicketContent:
		return fmt.Sprintf(
			"🎟 <b>Ticket request</b>\n\nService: <code>%s</code>\nTickets: <b>%d %s</b>\nMint: <code>%s</code>",
			key, c.Amount, c.Unit, c.MintURL,
		)
	}
	return fmt.Sprintf("❓ Unknown request from <code>%s</code>", key)
}

func shortKey(key string) string {
	if len(key) <= 16 {
		return key
	}
	return key[:8] + "…" + key[len(key)-4:]
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	if chatID == 0 {
		return
	}

	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}
