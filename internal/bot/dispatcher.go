package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"momobot/internal/momo"
	"momobot/internal/query"
	"momobot/internal/store"
)

const helpMessage = `*AYUDA - BOT DE DATOS MOMO*

Este bot permite consultar el exceso de mortalidad diario del sistema MoMo (ISCIII).

*Comandos disponibles:*
- /ultimo <ámbito> - Últimos datos del ámbito (nacional, comunidad o provincia).
- /tendencia <ámbito> [días] - Tendencia de los últimos días (7 por defecto).
- /resumen <ámbito> <desde> <hasta> - Exceso acumulado en un rango (fechas AAAA-MM-DD).
- /suscribir <ámbito> - Añade el ámbito al envío diario automático.
- /settime HH:MM - Cambia la hora de la notificación diaria.
- /borrar - Elimina las selecciones y cancela el envío automático.
- /ayuda - Muestra este mensaje.`

const (
	noDataMessage     = "🚫 No hay datos disponibles para las selecciones actuales."
	internalMessage   = "⚠️ No se pudo completar la consulta, inténtelo de nuevo más tarde."
	askScopeMessage   = "📍 ¿Qué ámbito desea consultar? (nacional, una comunidad o una provincia)"
	askRangeMessage   = "📅 Indique el rango de fechas: AAAA-MM-DD AAAA-MM-DD"
	staleNote         = "\n_(datos en caché, la última actualización falló)_"
	displayDateLayout = "02/01/2006"
)

// SubscriptionStore is the slice of the SQLite store the dispatcher
// needs for per-chat settings.
type SubscriptionStore interface {
	Subscription(ctx context.Context, chatID int64) (store.Subscription, error)
	SaveSubscription(ctx context.Context, sub store.Subscription) error
}

// Notifier manages per-chat daily notification jobs.
type Notifier interface {
	ScheduleDaily(chatID int64, hour, minute int)
	CancelDaily(chatID int64)
}

// Dispatcher maps inbound chat text to query engine calls and formats
// the replies. It owns the per-chat session table.
type Dispatcher struct {
	engine   *query.Engine
	subs     SubscriptionStore
	sessions *Sessions
	notifier Notifier

	defaultNotifyHour   int
	defaultNotifyMinute int
}

func NewDispatcher(engine *query.Engine, subs SubscriptionStore, sessions *Sessions, notifier Notifier, notifyHour, notifyMinute int) *Dispatcher {
	return &Dispatcher{
		engine:              engine,
		subs:                subs,
		sessions:            sessions,
		notifier:            notifier,
		defaultNotifyHour:   notifyHour,
		defaultNotifyMinute: notifyMinute,
	}
}

// Handle processes one inbound message and returns the reply text. No
// input may crash the dispatch loop: panics are recovered and answered
// with a generic error.
func (d *Dispatcher) Handle(ctx context.Context, chatID int64, text string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatcher: recovered panic handling chat %d: %v", chatID, r)
			reply = internalMessage
		}
	}()

	// A new command always supersedes an in-flight multi-step session.
	if !strings.HasPrefix(strings.TrimSpace(text), "/") {
		if sess := d.sessions.Get(chatID); sess != nil {
			return d.advanceSession(ctx, chatID, sess, text)
		}
	}

	cmd, err := Parse(text)
	if err != nil {
		return "❌ " + err.Error()
	}
	d.sessions.Clear(chatID)

	switch cmd.Kind {
	case KindStart:
		return "👋 Bienvenido al bot de datos MoMo.\n\n" + helpMessage
	case KindHelp, KindUnknown:
		return helpMessage
	case KindLatest, KindTrend, KindSummary, KindSubscribe:
		if !cmd.HasScope {
			d.sessions.Put(chatID, &Session{Pending: cmd, Step: stepAwaitingScope})
			return askScopeMessage
		}
		if cmd.Kind == KindSummary && !cmd.HasRange {
			d.sessions.Put(chatID, &Session{Pending: cmd, Step: stepAwaitingRange})
			return askRangeMessage
		}
		return d.execute(ctx, chatID, cmd)
	case KindClear:
		return d.clearSubscription(ctx, chatID)
	case KindSetTime:
		return d.setTime(ctx, chatID, cmd.Hour, cmd.Minute)
	}
	return helpMessage
}

// advanceSession feeds one free-text answer into the chat's pending
// command. Bad input re-asks without losing the session.
func (d *Dispatcher) advanceSession(ctx context.Context, chatID int64, sess *Session, text string) string {
	switch sess.Step {
	case stepAwaitingScope:
		scope, err := momo.ParseScope(text)
		if err != nil {
			d.sessions.Put(chatID, sess)
			return "❌ Ámbito no reconocido. " + askScopeMessage
		}
		sess.Pending.Scope = scope
		sess.Pending.HasScope = true
		if sess.Pending.Kind == KindSummary && !sess.Pending.HasRange {
			sess.Step = stepAwaitingRange
			d.sessions.Put(chatID, sess)
			return askRangeMessage
		}
		d.sessions.Clear(chatID)
		return d.execute(ctx, chatID, sess.Pending)

	case stepAwaitingRange:
		fields := strings.Fields(text)
		if len(fields) != 2 {
			d.sessions.Put(chatID, sess)
			return "❌ Formato incorrecto. " + askRangeMessage
		}
		from, to, err := ParseDateRange(fields[0], fields[1])
		if err != nil {
			d.sessions.Put(chatID, sess)
			return "❌ " + err.Error()
		}
		sess.Pending.From, sess.Pending.To = from, to
		sess.Pending.HasRange = true
		d.sessions.Clear(chatID)
		return d.execute(ctx, chatID, sess.Pending)
	}

	d.sessions.Clear(chatID)
	return helpMessage
}

func (d *Dispatcher) execute(ctx context.Context, chatID int64, cmd Command) string {
	switch cmd.Kind {
	case KindLatest:
		res, err := d.engine.Latest(ctx, cmd.Scope)
		if err != nil {
			return queryErrorReply(err)
		}
		return FormatLatest(res)
	case KindTrend:
		res, err := d.engine.Trend(ctx, cmd.Scope, cmd.Days)
		if err != nil {
			return queryErrorReply(err)
		}
		return formatTrend(cmd.Scope, cmd.Days, res)
	case KindSummary:
		res, err := d.engine.ExcessSummary(ctx, cmd.Scope, cmd.From, cmd.To)
		if err != nil {
			return queryErrorReply(err)
		}
		return formatSummary(cmd.Scope, res)
	case KindSubscribe:
		return d.subscribe(ctx, chatID, cmd.Scope)
	}
	return helpMessage
}

func (d *Dispatcher) subscribe(ctx context.Context, chatID int64, scope momo.Scope) string {
	sub, err := d.subs.Subscription(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		sub = store.Subscription{
			ChatID:       chatID,
			NotifyHour:   d.defaultNotifyHour,
			NotifyMinute: d.defaultNotifyMinute,
		}
	} else if err != nil {
		log.Printf("dispatcher: load subscription for chat %d: %v", chatID, err)
		return internalMessage
	}

	for _, sc := range sub.Scopes {
		if sc.Key() == scope.Key() {
			return fmt.Sprintf("ℹ️ *%s* ya estaba en sus selecciones.", scope)
		}
	}
	sub.Scopes = append(sub.Scopes, scope)
	sub.AutoSend = true

	if err := d.subs.SaveSubscription(ctx, sub); err != nil {
		log.Printf("dispatcher: save subscription for chat %d: %v", chatID, err)
		return internalMessage
	}
	if d.notifier != nil {
		d.notifier.ScheduleDaily(chatID, sub.NotifyHour, sub.NotifyMinute)
	}
	return fmt.Sprintf("✅ *%s* añadido. Envío automático diario a las *%02d:%02d*.\nUse /settime HH:MM para cambiar la hora.",
		scope, sub.NotifyHour, sub.NotifyMinute)
}

func (d *Dispatcher) clearSubscription(ctx context.Context, chatID int64) string {
	d.sessions.Clear(chatID)

	sub, err := d.subs.Subscription(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return "ℹ️ No tenía selecciones guardadas."
	}
	if err != nil {
		log.Printf("dispatcher: load subscription for chat %d: %v", chatID, err)
		return internalMessage
	}

	sub.Scopes = nil
	sub.AutoSend = false
	if err := d.subs.SaveSubscription(ctx, sub); err != nil {
		log.Printf("dispatcher: clear subscription for chat %d: %v", chatID, err)
		return internalMessage
	}
	if d.notifier != nil {
		d.notifier.CancelDaily(chatID)
	}
	return "🗑️ Selecciones y envío automático borrados."
}

func (d *Dispatcher) setTime(ctx context.Context, chatID int64, hour, minute int) string {
	sub, err := d.subs.Subscription(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		sub = store.Subscription{ChatID: chatID}
	} else if err != nil {
		log.Printf("dispatcher: load subscription for chat %d: %v", chatID, err)
		return internalMessage
	}

	sub.NotifyHour = hour
	sub.NotifyMinute = minute
	if err := d.subs.SaveSubscription(ctx, sub); err != nil {
		log.Printf("dispatcher: save notification time for chat %d: %v", chatID, err)
		return internalMessage
	}

	if sub.AutoSend {
		if d.notifier != nil {
			d.notifier.ScheduleDaily(chatID, hour, minute)
		}
		return fmt.Sprintf("✅ Hora de notificación actualizada a las *%02d:%02d*.", hour, minute)
	}
	return "✅ Hora guardada. Se usará cuando active los envíos automáticos con /suscribir."
}

func queryErrorReply(err error) string {
	switch {
	case errors.Is(err, momo.ErrNoData), errors.Is(err, momo.ErrNotEnoughData):
		return noDataMessage
	default:
		log.Printf("dispatcher: query failed: %v", err)
		return internalMessage
	}
}

// FormatLatest renders the newest observation the way the daily
// notification does, so both paths read identically in chat.
func FormatLatest(res query.LatestResult) string {
	o := res.Observation
	excess := o.Excess()
	sign := ""
	if excess >= 0 {
		sign = "+"
	}
	msg := fmt.Sprintf("📊 *%s* (%s)\n  - Observadas: *%d*\n  - Esperadas: *%.0f*\n  - Exceso: *%s%.0f*",
		o.Scope, o.Date.Format(displayDateLayout), o.Observed, o.Expected, sign, excess)
	if res.Stale {
		msg += staleNote
	}
	return msg
}

func formatTrend(scope momo.Scope, days int, res query.TrendResult) string {
	var word string
	switch res.Direction {
	case query.TrendIncreasing:
		word = "📈 al alza"
	case query.TrendDecreasing:
		word = "📉 a la baja"
	default:
		word = "➡️ estable"
	}
	first := res.Points[0]
	last := res.Points[len(res.Points)-1]
	msg := fmt.Sprintf("*%s* - tendencia a %d días: %s\n  - %s: *%d* defunciones\n  - %s: *%d* defunciones",
		scope, days, word,
		first.Date.Format(displayDateLayout), first.Observed,
		last.Date.Format(displayDateLayout), last.Observed)
	if res.Stale {
		msg += staleNote
	}
	return msg
}

func formatSummary(scope momo.Scope, res query.SummaryResult) string {
	sign := ""
	if res.TotalExcess >= 0 {
		sign = "+"
	}
	msg := fmt.Sprintf("📊 *%s* (%s - %s)\n  - Exceso acumulado: *%s%.0f* en %d días\n  - Días con exceso anómalo: *%d*",
		scope, res.From.Format(displayDateLayout), res.To.Format(displayDateLayout),
		sign, res.TotalExcess, res.Days, res.AnomalyDays)
	if res.Stale {
		msg += staleNote
	}
	return msg
}
