package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"momobot/internal/bot"
	"momobot/internal/momo"
	"momobot/internal/query"
	"momobot/internal/refresh"
	"momobot/internal/store"
)

type fakeSubStore struct {
	subs map[int64]store.Subscription
}

func newFakeSubStore(subs ...store.Subscription) *fakeSubStore {
	f := &fakeSubStore{subs: make(map[int64]store.Subscription)}
	for _, sub := range subs {
		f.subs[sub.ChatID] = sub
	}
	return f
}

func (f *fakeSubStore) Subscription(_ context.Context, chatID int64) (store.Subscription, error) {
	sub, ok := f.subs[chatID]
	if !ok {
		return store.Subscription{}, store.ErrNotFound
	}
	return sub, nil
}

func (f *fakeSubStore) SaveSubscription(_ context.Context, sub store.Subscription) error {
	f.subs[sub.ChatID] = sub
	return nil
}

func (f *fakeSubStore) ListAutoSend(_ context.Context) ([]store.Subscription, error) {
	var out []store.Subscription
	for _, sub := range f.subs {
		if sub.AutoSend {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeSubStore) SubscribedScopes(_ context.Context) ([]momo.Scope, error) {
	seen := make(map[string]momo.Scope)
	for _, sub := range f.subs {
		for _, sc := range sub.Scopes {
			seen[sc.Key()] = sc
		}
	}
	var out []momo.Scope
	for _, sc := range seen {
		out = append(out, sc)
	}
	return out, nil
}

// fakeReplier records sends and can simulate a chat that blocked the
// bot.
type fakeReplier struct {
	blocked bool
	sent    []string
}

func (r *fakeReplier) SendMessage(_ context.Context, chatID int64, text string) error {
	if r.blocked {
		return fmt.Errorf("telegram sendMessage: %w: Forbidden", bot.ErrChatBlocked)
	}
	r.sent = append(r.sent, text)
	return nil
}

type staticQueryStore struct {
	obs map[string]momo.Observation
}

func (s staticQueryStore) Latest(_ context.Context, scope momo.Scope) (momo.Observation, error) {
	o, ok := s.obs[scope.Key()]
	if !ok {
		return momo.Observation{}, store.ErrNotFound
	}
	return o, nil
}

func (s staticQueryStore) QueryRange(context.Context, momo.Scope, time.Time, time.Time) ([]momo.Observation, error) {
	return nil, nil
}

type noopRefresher struct{}

func (noopRefresher) EnsureFresh(context.Context, momo.Scope, time.Time) (refresh.Result, error) {
	return refresh.Result{}, nil
}

func testEngine(obs map[string]momo.Observation) *query.Engine {
	return query.NewEngine(staticQueryStore{obs: obs}, noopRefresher{}, 15, 0.5)
}

func autoSendSub(chatID int64) store.Subscription {
	return store.Subscription{
		ChatID:     chatID,
		Scopes:     []momo.Scope{{Kind: momo.ScopeNational}},
		AutoSend:   true,
		NotifyHour: 12,
	}
}

func TestSendDailyIncludesLatestData(t *testing.T) {
	national := momo.Scope{Kind: momo.ScopeNational}
	engine := testEngine(map[string]momo.Observation{
		national.Key(): {
			Scope:    national,
			Date:     time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Observed: 1050,
			Expected: 1000,
		},
	})
	st := newFakeSubStore(autoSendSub(42))
	replier := &fakeReplier{}
	s := New(time.UTC, st, engine, nil, replier, 4, 0)

	s.sendDaily(42)

	if len(replier.sent) != 1 {
		t.Fatalf("expected 1 daily send, got %d", len(replier.sent))
	}
	msg := replier.sent[0]
	if !strings.Contains(msg, "actualización diaria") || !strings.Contains(msg, "+50") {
		t.Errorf("unexpected daily message: %q", msg)
	}
}

func TestSendDailyDisablesBlockedChat(t *testing.T) {
	st := newFakeSubStore(autoSendSub(42))
	replier := &fakeReplier{blocked: true}
	s := New(time.UTC, st, testEngine(nil), nil, replier, 4, 0)

	s.ScheduleDaily(42, 12, 0)
	s.sendDaily(42)

	sub := st.subs[42]
	if sub.AutoSend {
		t.Error("a blocked chat must have auto-send disabled")
	}
	if jobs, err := s.sched.FindJobsByTag(chatTag(42)); err == nil && len(jobs) > 0 {
		t.Errorf("the blocked chat's daily job should be removed, found %d", len(jobs))
	}
}

func TestSendDailySkipsDisabledChat(t *testing.T) {
	sub := autoSendSub(7)
	sub.AutoSend = false
	st := newFakeSubStore(sub)
	replier := &fakeReplier{}
	s := New(time.UTC, st, testEngine(nil), nil, replier, 4, 0)

	s.sendDaily(7)

	if len(replier.sent) != 0 {
		t.Errorf("a chat with auto-send off must not receive daily messages, got %d", len(replier.sent))
	}
}

func TestScheduleDailyReplacesExistingJob(t *testing.T) {
	s := New(time.UTC, newFakeSubStore(), testEngine(nil), nil, &fakeReplier{}, 4, 0)

	s.ScheduleDaily(7, 8, 0)
	s.ScheduleDaily(7, 9, 30)

	jobs, err := s.sched.FindJobsByTag(chatTag(7))
	if err != nil {
		t.Fatalf("expected a daily job for chat 7: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("re-scheduling must replace the job, found %d", len(jobs))
	}

	s.CancelDaily(7)
	if _, err := s.sched.FindJobsByTag(chatTag(7)); err == nil {
		t.Error("cancelled daily job should be gone")
	}
}

func TestStartRestoresDailyJobs(t *testing.T) {
	disabled := autoSendSub(3)
	disabled.AutoSend = false
	st := newFakeSubStore(autoSendSub(1), autoSendSub(2), disabled)
	s := New(time.UTC, st, testEngine(nil), nil, &fakeReplier{}, 4, 0)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	for _, chatID := range []int64{1, 2} {
		if _, err := s.sched.FindJobsByTag(chatTag(chatID)); err != nil {
			t.Errorf("expected restored daily job for chat %d: %v", chatID, err)
		}
	}
	if _, err := s.sched.FindJobsByTag(chatTag(3)); err == nil {
		t.Error("a chat with auto-send off must not get a daily job on start")
	}
}
