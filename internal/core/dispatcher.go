package core

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"dutybot/internal/rotation"
	"dutybot/pkg/logx"
)

const suggestThreshold = 0.4
const suggestMax = 3

// defaultCommandTimeout bounds every handler that does not set its own
// Command.Timeout. Handlers do storage and trigger work, so a wedged
// driver must not pin a dispatch forever.
const defaultCommandTimeout = 10 * time.Second

// Dispatcher routes inbound chat text to command handlers. The registry
// is built once at startup and never mutated, so routing needs no
// locking.
type Dispatcher struct {
	log  logx.Logger
	svc  *TenantService
	cmds []Command // registration order, the routing tie-break
}

func NewDispatcher(svc *TenantService, cmds []Command, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{log: log, svc: svc, cmds: append([]Command(nil), cmds...)}
}

// Commands returns the registry in registration order.
func (d *Dispatcher) Commands() []Command { return d.cmds }

// Normalize trims the input and rewrites any recognized alias prefix to
// its canonical command name. Localized aliases may be written without
// a separator before the arguments; normalization inserts one.
func (d *Dispatcher) Normalize(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "＠", Sigil))
	for _, c := range d.cmds {
		for _, alias := range c.Aliases {
			rest, ok := matchPrefix(text, alias)
			if !ok {
				continue
			}
			if rest == "" {
				return c.Name
			}
			return c.Name + " " + rest
		}
	}
	return text
}

// Route finds the handler for normalized text. A canonical name matches
// when the text starts with it and the remainder is empty or starts
// with a space, so "@weekend" never matches "@week". First registered
// match wins.
func (d *Dispatcher) Route(text string) (*Command, string, bool) {
	for i := range d.cmds {
		c := &d.cmds[i]
		rest, ok := matchPrefix(text, c.Name)
		if !ok {
			continue
		}
		return c, rest, true
	}
	return nil, "", false
}

// matchPrefix reports whether text begins with name followed by a
// separator or end of input. Names ending in a multibyte rune (the
// localized aliases) also match without a separator, since those are
// typed without spaces.
func matchPrefix(text, name string) (rest string, ok bool) {
	if name == "" || !strings.HasPrefix(text, name) {
		return "", false
	}
	rest = text[len(name):]
	if rest == "" {
		return "", true
	}
	if rest[0] == ' ' || rest[0] == '\t' {
		return strings.TrimSpace(rest), true
	}
	if r, _ := utf8.DecodeLastRuneInString(name); r >= utf8.RuneSelf {
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// Suggest returns up to three canonical command names whose similarity
// to word exceeds the threshold, best first. Ties keep registration
// order.
func (d *Dispatcher) Suggest(word string) []string {
	type scored struct {
		name  string
		ratio float64
	}
	var candidates []scored
	for _, c := range d.cmds {
		if r := similarityRatio(word, c.Name); r >= suggestThreshold {
			candidates = append(candidates, scored{name: c.Name, ratio: r})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].ratio > candidates[j].ratio })
	if len(candidates) > suggestMax {
		candidates = candidates[:suggestMax]
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.name)
	}
	return out
}

// Dispatch routes one inbound message. The second return is false when
// the text is not a command at all (transport ignores it). Commands
// always produce a reply; handler errors and panics become short
// user-facing strings here and never reach the transport as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, text string) (string, bool) {
	text = d.Normalize(text)
	if !strings.HasPrefix(text, Sigil) {
		return "", false
	}

	cmd, argText, ok := d.Route(text)
	if !ok {
		return d.unknownReply(text), true
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		TenantID: tenantID,
		Command:  cmd.Name,
		ArgText:  argText,
		Args:     strings.Fields(argText),
		ReqID:    rid,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.String("tenant", tenantID),
			logx.String("cmd", cmd.Name)),
		Service: d.svc,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWTimeout(timeout),
	)
	reply, err := final(ctx, req)
	if err != nil {
		reply = d.replyForError(err, req)
	}
	return reply, true
}

func (d *Dispatcher) unknownReply(text string) string {
	word := text
	if i := strings.IndexAny(word, " \t"); i >= 0 {
		word = word[:i]
	}
	var b strings.Builder
	b.WriteString("Unknown command " + word + ".")
	if sug := d.Suggest(word); len(sug) > 0 {
		b.WriteString(" Did you mean: " + strings.Join(sug, ", ") + "?")
	} else {
		b.WriteString(" See @help for the command list.")
	}
	return b.String()
}

func (d *Dispatcher) replyForError(err error, req *Request) string {
	var ve *rotation.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Error()
	}
	var se *SchedulerError
	if errors.As(err, &se) {
		req.Logger.Error("trigger operation failed", logx.Err(se.Err))
		return "The schedule service hit an error; your settings are saved. Re-send the command to re-arm the reminder."
	}
	var ste *StoreError
	if errors.As(err, &ste) {
		req.Logger.Error("store operation failed", logx.Err(ste.Err))
		return "Could not save your changes; nothing was applied. Please try again."
	}
	var ne *NotifierError
	if errors.As(err, &ne) {
		req.Logger.Error("notifier operation failed", logx.Err(ne.Err))
		return "Could not send the message. Please try again."
	}
	req.Logger.Error("unexpected handler error", logx.Err(err))
	return "Something went wrong. Please try again."
}
