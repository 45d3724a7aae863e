// Package telegram connects the command dispatcher to Telegram group
// chats via telebot long polling. The group chat ID is the tenant ID.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"dutybot/internal/core"
	logx "dutybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter is the only component that speaks to Telegram. Inbound group
// text goes through the dispatcher; outbound reminders come back in via
// SendText, which the notifier uses as its delivery sink.
type Adapter struct {
	cfg      Config
	log      logx.Logger
	bot      *tele.Bot
	dispatch *core.Dispatcher
	tenants  *core.TenantService

	runMu     sync.Mutex
	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, dispatch *core.Dispatcher, tenants *core.TenantService, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, dispatch: dispatch, tenants: tenants}
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		if !isGroupChat(m.Chat.Type) {
			// Commands only make sense in a group; everything else in a
			// private chat stays unanswered.
			if strings.HasPrefix(strings.TrimSpace(m.Text), core.Sigil) {
				return c.Send("Add me to a group to manage its duty rotation.")
			}
			return nil
		}
		reply, handled := a.dispatch.Dispatch(a.ctx(), tenantID(m.Chat.ID), m.Text)
		if !handled || reply == "" {
			return nil
		}
		return c.Send(reply)
	})

	a.bot.Handle(tele.OnAddedToGroup, func(c tele.Context) error {
		a.log.Info("added to group", logx.Int64("chat", c.Chat().ID))
		return c.Send(core.WelcomeText())
	})

	// A supergroup upgrade invalidates the chat ID; carry the tenant over.
	a.bot.Handle(tele.OnMigration, func(c tele.Context) error {
		from, to := c.Migration()
		if err := a.tenants.Migrate(a.ctx(), tenantID(from), tenantID(to)); err != nil {
			a.log.Error("group migration failed",
				logx.Int64("from", from), logx.Int64("to", to), logx.Err(err))
		}
		return nil
	})

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.UserJoined == nil || !a.isSelf(m.UserJoined) {
			return nil
		}
		a.log.Info("joined group", logx.Int64("chat", m.Chat.ID))
		return c.Send(core.WelcomeText())
	})

	// Being removed from a group is the last update we see for it; drop
	// the tenant so the trigger cannot keep firing into the void.
	a.bot.Handle(tele.OnUserLeft, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.UserLeft == nil || !a.isSelf(m.UserLeft) {
			return nil
		}
		id := tenantID(m.Chat.ID)
		a.log.Info("removed from group, dropping tenant", logx.String("tenant", id))
		if err := a.tenants.ResetAll(a.ctx(), id); err != nil {
			a.log.Warn("dropping tenant failed", logx.String("tenant", id), logx.Err(err))
		}
		return nil
	})
}

func (a *Adapter) isSelf(u *tele.User) bool {
	return a.bot.Me != nil && u.ID == a.bot.Me.ID
}

func (a *Adapter) ctx() context.Context {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.runCtx != nil {
		return a.runCtx
	}
	return context.Background()
}

func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.runCtx, a.runCancel = context.WithCancel(ctx)
	rctx := a.runCtx
	a.runWG.Add(1)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		// Ensure we stop telebot when the run context is cancelled.
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() called
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Best-effort graceful stop. Never block shutdown for too long on
	// Telegram long-poll.
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.runCtx = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}
	if cancel != nil {
		cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is
	// still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// SendText delivers one reminder to the group the tenant ID names. It
// is the notify.Sender the delivery pipeline is built on.
func (a *Adapter) SendText(ctx context.Context, tenant string, text string) error {
	chatID, err := chatIDOf(tenant)
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, telegramTextLimit) {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if _, err := a.bot.Send(chat, chunk); err != nil {
			return err
		}
	}
	return nil
}

func isGroupChat(t tele.ChatType) bool {
	return t == tele.ChatGroup || t == tele.ChatSuperGroup
}

func tenantID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func chatIDOf(tenant string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(tenant), 10, 64)
	if err != nil {
		return 0, errors.New("tenant id is not a telegram chat id: " + tenant)
	}
	return id, nil
}
