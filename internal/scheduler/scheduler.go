// Package scheduler owns the background jobs: the nightly data refresh
// and the per-chat daily notification sends.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"momobot/internal/bot"
	"momobot/internal/momo"
	"momobot/internal/query"
	"momobot/internal/refresh"
	"momobot/internal/store"
)

// SubscriptionStore is the subscription slice the scheduler reads and
// updates.
type SubscriptionStore interface {
	Subscription(ctx context.Context, chatID int64) (store.Subscription, error)
	SaveSubscription(ctx context.Context, sub store.Subscription) error
	ListAutoSend(ctx context.Context) ([]store.Subscription, error)
	SubscribedScopes(ctx context.Context) ([]momo.Scope, error)
}

// Scheduler runs the gocron jobs in the dataset's publication timezone.
// It satisfies bot.Notifier so the dispatcher can add and remove daily
// sends as subscriptions change.
type Scheduler struct {
	sched     *gocron.Scheduler
	store     SubscriptionStore
	engine    *query.Engine
	refresher *refresh.Coordinator
	replier   bot.Replier

	refreshHour   int
	refreshMinute int
	jobTimeout    time.Duration
}

func New(loc *time.Location, st SubscriptionStore, engine *query.Engine, refresher *refresh.Coordinator, replier bot.Replier, refreshHour, refreshMinute int) *Scheduler {
	return &Scheduler{
		sched:         gocron.NewScheduler(loc),
		store:         st,
		engine:        engine,
		refresher:     refresher,
		replier:       replier,
		refreshHour:   refreshHour,
		refreshMinute: refreshMinute,
		jobTimeout:    5 * time.Minute,
	}
}

// Start registers the nightly refresh, restores every persisted daily
// notification job, and starts the underlying scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	at := fmt.Sprintf("%02d:%02d", s.refreshHour, s.refreshMinute)
	if _, err := s.sched.Every(1).Day().At(at).Do(s.refreshAll); err != nil {
		return fmt.Errorf("schedule nightly refresh: %w", err)
	}

	subs, err := s.store.ListAutoSend(ctx)
	if err != nil {
		return fmt.Errorf("load auto-send subscriptions: %w", err)
	}
	for _, sub := range subs {
		s.ScheduleDaily(sub.ChatID, sub.NotifyHour, sub.NotifyMinute)
	}
	log.Printf("scheduler: restored %d daily notification job(s)", len(subs))

	s.sched.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.sched != nil {
		s.sched.Stop()
	}
}

func chatTag(chatID int64) string {
	return fmt.Sprintf("daily_chat_%d", chatID)
}

// ScheduleDaily registers (or re-registers) the chat's daily send.
func (s *Scheduler) ScheduleDaily(chatID int64, hour, minute int) {
	tag := chatTag(chatID)
	// RemoveByTag fails when no job carries the tag yet; that is fine.
	_ = s.sched.RemoveByTag(tag)

	at := fmt.Sprintf("%02d:%02d", hour, minute)
	_, err := s.sched.Every(1).Day().At(at).Tag(tag).Do(func() {
		s.sendDaily(chatID)
	})
	if err != nil {
		log.Printf("scheduler: scheduling daily send for chat %d: %v", chatID, err)
		return
	}
	log.Printf("scheduler: daily send for chat %d scheduled at %s", chatID, at)
}

// CancelDaily removes the chat's daily send, if registered.
func (s *Scheduler) CancelDaily(chatID int64) {
	if err := s.sched.RemoveByTag(chatTag(chatID)); err == nil {
		log.Printf("scheduler: daily send for chat %d cancelled", chatID)
	}
}

// refreshAll warms the cache for every subscribed scope. Scopes refresh
// concurrently; the coordinator keeps same-scope work deduplicated.
func (s *Scheduler) refreshAll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	scopes, err := s.store.SubscribedScopes(ctx)
	if err != nil {
		log.Printf("scheduler: listing subscribed scopes: %v", err)
		return
	}
	if len(scopes) == 0 {
		log.Println("scheduler: no subscribed scopes; nothing to refresh")
		return
	}

	log.Printf("scheduler: running nightly refresh for %d scope(s)", len(scopes))
	var wg sync.WaitGroup
	for _, scope := range scopes {
		wg.Add(1)
		go func(scope momo.Scope) {
			defer wg.Done()
			if _, err := s.refresher.EnsureFresh(ctx, scope, time.Now()); err != nil {
				log.Printf("scheduler: nightly refresh failed for %s: %v", scope.Key(), err)
			}
		}(scope)
	}
	wg.Wait()
	log.Println("scheduler: completed nightly refresh")
}

// sendDaily builds and sends one chat's daily update. A chat that
// blocked the bot gets its automatic sends disabled.
func (s *Scheduler) sendDaily(chatID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	sub, err := s.store.Subscription(ctx, chatID)
	if err != nil {
		log.Printf("scheduler: loading subscription for chat %d: %v", chatID, err)
		return
	}
	if !sub.AutoSend || len(sub.Scopes) == 0 {
		return
	}

	parts := []string{"🔔 *Tu actualización diaria de MoMo:*"}
	for _, scope := range sub.Scopes {
		res, err := s.engine.Latest(ctx, scope)
		if err != nil {
			log.Printf("scheduler: daily query failed for %s: %v", scope.Key(), err)
			parts = append(parts, fmt.Sprintf("🚫 *%s*: sin datos disponibles.", scope))
			continue
		}
		parts = append(parts, bot.FormatLatest(res))
	}

	msg := parts[0]
	for _, p := range parts[1:] {
		msg += "\n\n" + p
	}

	if err := s.replier.SendMessage(ctx, chatID, msg); err != nil {
		if errors.Is(err, bot.ErrChatBlocked) {
			log.Printf("scheduler: chat %d blocked the bot; disabling daily sends", chatID)
			sub.AutoSend = false
			if err := s.store.SaveSubscription(ctx, sub); err != nil {
				log.Printf("scheduler: disabling auto-send for chat %d: %v", chatID, err)
			}
			s.CancelDaily(chatID)
			return
		}
		log.Printf("scheduler: daily send to chat %d failed: %v", chatID, err)
	}
}
