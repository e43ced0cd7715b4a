package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"momobot/internal/momo"
)

// Kind tags a decoded command. Every inbound text maps to exactly one
// Kind before dispatch, so text-to-action is total and testable without
// the transport.
type Kind string

const (
	KindStart     Kind = "start"
	KindHelp      Kind = "help"
	KindLatest    Kind = "latest"
	KindTrend     Kind = "trend"
	KindSummary   Kind = "summary"
	KindSubscribe Kind = "subscribe"
	KindClear     Kind = "clear"
	KindSetTime   Kind = "settime"
	KindUnknown   Kind = "unknown"
)

// Command is a decoded inbound command with its collected arguments.
// Missing arguments start a multi-step session instead of failing.
type Command struct {
	Kind Kind

	Scope    momo.Scope
	HasScope bool

	Days int

	From, To time.Time
	HasRange bool

	Hour, Minute int
}

// DefaultTrendDays is the window for /trend without an explicit count.
const DefaultTrendDays = 7

// Parse decodes command text. It never fails for unrecognized input:
// that becomes KindUnknown. It does fail for recognized commands with
// unusable arguments, with a user-facing message.
func Parse(text string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return Command{Kind: KindUnknown}, nil
	}

	verb := strings.ToLower(fields[0])
	// Group chats address commands as /cmd@BotName.
	if at := strings.Index(verb, "@"); at > 0 {
		verb = verb[:at]
	}
	args := fields[1:]

	switch verb {
	case "/start":
		return Command{Kind: KindStart}, nil
	case "/help", "/ayuda":
		return Command{Kind: KindHelp}, nil
	case "/latest", "/ultimo":
		return parseScoped(KindLatest, args)
	case "/trend", "/tendencia":
		return parseTrend(args)
	case "/summary", "/resumen":
		return parseSummary(args)
	case "/suscribir", "/subscribe":
		return parseScoped(KindSubscribe, args)
	case "/borrar":
		return Command{Kind: KindClear}, nil
	case "/settime":
		return parseSetTime(args)
	}
	return Command{Kind: KindUnknown}, nil
}

func parseScoped(kind Kind, args []string) (Command, error) {
	cmd := Command{Kind: kind}
	if len(args) == 0 {
		return cmd, nil
	}
	scope, err := momo.ParseScope(strings.Join(args, " "))
	if err != nil {
		return Command{}, fmt.Errorf("ámbito no válido: %v", err)
	}
	cmd.Scope = scope
	cmd.HasScope = true
	return cmd, nil
}

func parseTrend(args []string) (Command, error) {
	cmd := Command{Kind: KindTrend, Days: DefaultTrendDays}
	if len(args) == 0 {
		return cmd, nil
	}
	// A trailing integer is the day count; the rest names the scope.
	if n, err := strconv.Atoi(args[len(args)-1]); err == nil {
		if n < 2 || n > 366 {
			return Command{}, fmt.Errorf("el número de días debe estar entre 2 y 366")
		}
		cmd.Days = n
		args = args[:len(args)-1]
	}
	if len(args) == 0 {
		return cmd, nil
	}
	scope, err := momo.ParseScope(strings.Join(args, " "))
	if err != nil {
		return Command{}, fmt.Errorf("ámbito no válido: %v", err)
	}
	cmd.Scope = scope
	cmd.HasScope = true
	return cmd, nil
}

func parseSummary(args []string) (Command, error) {
	cmd := Command{Kind: KindSummary}
	if len(args) == 0 {
		return cmd, nil
	}
	if len(args) < 3 {
		return Command{}, fmt.Errorf("uso: /resumen <ámbito> <desde> <hasta> (fechas AAAA-MM-DD)")
	}

	from, to, err := ParseDateRange(args[len(args)-2], args[len(args)-1])
	if err != nil {
		return Command{}, err
	}
	scope, err := momo.ParseScope(strings.Join(args[:len(args)-2], " "))
	if err != nil {
		return Command{}, fmt.Errorf("ámbito no válido: %v", err)
	}

	cmd.Scope = scope
	cmd.HasScope = true
	cmd.From, cmd.To = from, to
	cmd.HasRange = true
	return cmd, nil
}

func parseSetTime(args []string) (Command, error) {
	if len(args) != 1 {
		return Command{}, fmt.Errorf("uso: /settime HH:MM (ej: /settime 08:30)")
	}
	hh, mm, ok := strings.Cut(args[0], ":")
	if !ok {
		return Command{}, fmt.Errorf("uso: /settime HH:MM (ej: /settime 08:30)")
	}
	hour, err1 := strconv.Atoi(hh)
	minute, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Command{}, fmt.Errorf("hora no válida, use /settime HH:MM (ej: /settime 08:30)")
	}
	return Command{Kind: KindSetTime, Hour: hour, Minute: minute}, nil
}

// ParseDateRange parses two AAAA-MM-DD dates and checks their order.
func ParseDateRange(fromStr, toStr string) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(momo.DateLayout, fromStr, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("fecha no válida %q, use AAAA-MM-DD", fromStr)
	}
	to, err := time.ParseInLocation(momo.DateLayout, toStr, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("fecha no válida %q, use AAAA-MM-DD", toStr)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("la fecha final es anterior a la inicial")
	}
	return from, to, nil
}
