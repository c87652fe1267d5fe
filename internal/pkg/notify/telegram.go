package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Min interval between messages to the same chat to stay under Telegram's
// per-chat rate limit.
const sendInterval = 2 * time.Second

// TelegramNotifier sends operator alerts for auth events: forced credential
// rotations, passcode changes, terminal login failures. A nil notifier is
// valid and drops everything.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64

	queue chan string
	wg    sync.WaitGroup
	once  sync.Once
}

func NewTelegramNotifier(token string, chatID int64) *TelegramNotifier {
	if token == "" || chatID == 0 {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		slog.Warn("telegram notifier disabled", "error", err)
		return nil
	}
	n := &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		queue:  make(chan string, 64),
	}
	n.wg.Add(1)
	go n.sender()
	return n
}

func (n *TelegramNotifier) sender() {
	defer n.wg.Done()
	for text := range n.queue {
		msg := tgbotapi.NewMessage(n.chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			slog.Warn("telegram send failed", "error", err)
		}
		time.Sleep(sendInterval)
	}
}

func (n *TelegramNotifier) enqueue(text string) {
	if n == nil {
		return
	}
	select {
	case n.queue <- text:
	default:
		slog.Warn("telegram queue full, dropping alert")
	}
}

func (n *TelegramNotifier) CredentialsRotated(accountID, newUsername string) {
	n.enqueue(fmt.Sprintf("🔑 account %s: platform forced a credential change, new login %q verified and saved", accountID, newUsername))
}

func (n *TelegramNotifier) PasscodeStored(accountID string) {
	n.enqueue(fmt.Sprintf("🔢 account %s: passcode set and saved", accountID))
}

func (n *TelegramNotifier) LoginFailed(accountID, reason string) {
	n.enqueue(fmt.Sprintf("⛔ account %s: login failed: %s", accountID, reason))
}

// Close drains the queue and stops the sender.
func (n *TelegramNotifier) Close() {
	if n == nil {
		return
	}
	n.once.Do(func() {
		close(n.queue)
		n.wg.Wait()
	})
}
