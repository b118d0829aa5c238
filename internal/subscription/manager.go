// Package subscription owns the live-listener lifecycle: one subscription
// per in-range week, bounded reconnects on transient errors, and eviction of
// weeks that fell out of the sliding window.
package subscription

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/metrics"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/notify"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/store"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/weekcache"
)

// Reconnect policy: at most one automatic attempt per week, debounced by the
// cooldown, fired after a short settle delay.
const (
	ReconnectCooldown  = 60 * time.Second
	ReconnectDelay     = 5 * time.Second
	MaxAutoAttempts    = 1
	EvictionWindowDays = 21
)

// State of one week's subscription.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateLive
	StateReconnecting
	StateStale
)

type weekSub struct {
	state       State
	unsubscribe func()
}

type attemptState struct {
	count       int
	lastAttempt time.Time
}

// Manager tracks every week subscription against the event collection.
type Manager struct {
	store    store.Store
	cache    *weekcache.Cache
	notifier notify.Notifier
	logger   *zerolog.Logger

	mu           sync.Mutex
	subs         map[string]*weekSub
	attempts     map[string]*attemptState
	manualNeeded map[string]bool
	currentWeek  string

	now   func() time.Time
	after func(d time.Duration, f func())
}

// NewManager creates a manager over the given store and cache.
func NewManager(st store.Store, cache *weekcache.Cache, notifier notify.Notifier, logger *zerolog.Logger) *Manager {
	return &Manager{
		store:        st,
		cache:        cache,
		notifier:     notifier,
		logger:       logger,
		subs:         make(map[string]*weekSub),
		attempts:     make(map[string]*attemptState),
		manualNeeded: make(map[string]bool),
		now:          time.Now,
		after:       func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// SetClock replaces the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// SetAfterFunc replaces delayed scheduling. Test hook; the default is
// time.AfterFunc.
func (m *Manager) SetAfterFunc(f func(d time.Duration, fn func())) {
	m.mu.Lock()
	m.after = f
	m.mu.Unlock()
}

// SetCurrentWeek marks the week the user is looking at. Reconnect outcomes
// are only surfaced for this week.
func (m *Manager) SetCurrentWeek(weekKey string) {
	m.mu.Lock()
	m.currentWeek = weekKey
	m.mu.Unlock()
}

// StateOf reports the subscription state for a week.
func (m *Manager) StateOf(weekKey string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[weekKey]; ok {
		return sub.state
	}
	return StateUnsubscribed
}

// NeedsManualReconnect reports whether automatic recovery gave up on the week
// and the user has to trigger a reconnect.
func (m *Manager) NeedsManualReconnect(weekKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manualNeeded[weekKey]
}

// SubscribedWeeks lists weeks with an open subscription.
func (m *Manager) SubscribedWeeks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	return keys
}

// EnsureSubscription opens the week's range subscription unless one is
// already subscribing or live. Re-entrant: user navigation and
// auto-reconnect may both land here for the same week.
func (m *Manager) EnsureSubscription(weekKey string) {
	m.mu.Lock()
	var stale func()
	if prev, ok := m.subs[weekKey]; ok {
		if prev.state != StateStale {
			m.mu.Unlock()
			return
		}
		// Replacing a stale entry must release its listener handle or the
		// store keeps delivering to it forever.
		stale = prev.unsubscribe
	}
	sub := &weekSub{state: StateSubscribing}
	m.subs[weekKey] = sub
	m.mu.Unlock()
	if stale != nil {
		stale()
	}

	dates, err := model.WeekDates(weekKey)
	if err != nil {
		m.logger.Error().Err(err).Str("week", weekKey).Msg("invalid week key")
		m.mu.Lock()
		delete(m.subs, weekKey)
		m.mu.Unlock()
		return
	}

	// The initial snapshot can fire synchronously, so the listener is
	// registered outside the manager lock.
	unsubscribe := m.store.Collection(model.CollectionEvents).
		Where("date", ">=", dates[0]).
		Where("date", "<=", dates[6]).
		OnSnapshot(
			func(snap store.Snapshot) { m.onSnapshot(weekKey, snap) },
			func(err error) { m.onError(weekKey, err) },
		)

	m.mu.Lock()
	current, ok := m.subs[weekKey]
	if !ok || current != sub {
		// Evicted or replaced while we were registering.
		m.mu.Unlock()
		unsubscribe()
		return
	}
	sub.unsubscribe = unsubscribe
	m.mu.Unlock()
}

func (m *Manager) onSnapshot(weekKey string, snap store.Snapshot) {
	events := make([]model.Event, 0, len(snap.Docs))
	for _, d := range snap.Docs {
		events = append(events, model.EventFromFields(d.ID, d.Fields))
	}
	m.cache.ApplySnapshot(weekKey, events)
	metrics.IncSnapshotApplied()

	m.mu.Lock()
	// An attempt record still present here means this snapshot ended an
	// auto-reconnect cycle rather than a plain subscribe.
	_, recovered := m.attempts[weekKey]
	if sub, ok := m.subs[weekKey]; ok {
		recovered = recovered || sub.state == StateReconnecting
		sub.state = StateLive
	}
	// A successful snapshot resets backoff state for the week.
	delete(m.attempts, weekKey)
	delete(m.manualNeeded, weekKey)
	isCurrent := weekKey == m.currentWeek
	m.mu.Unlock()

	if recovered && isCurrent {
		m.notifier.Notify("スケジュールの接続を回復しました", notify.SeveritySuccess)
	}
}

func (m *Manager) onError(weekKey string, err error) {
	if !store.IsTransient(err) {
		// Permanent errors are logged and left alone; retrying a
		// permission-denied subscription is a retry storm.
		m.logger.Error().Err(err).Str("week", weekKey).
			Str("kind", string(store.KindOf(err))).Msg("subscription failed permanently")
		m.setState(weekKey, StateStale)
		return
	}

	m.mu.Lock()
	att := m.attempts[weekKey]
	if att == nil {
		att = &attemptState{}
		m.attempts[weekKey] = att
	}
	now := m.now()
	if att.count > 0 && now.Sub(att.lastAttempt) < ReconnectCooldown {
		m.mu.Unlock()
		m.logger.Debug().Str("week", weekKey).Msg("reconnect debounced inside cooldown")
		return
	}
	if att.count >= MaxAutoAttempts {
		isCurrent := weekKey == m.currentWeek
		if isCurrent {
			m.manualNeeded[weekKey] = true
		}
		m.mu.Unlock()
		if isCurrent {
			m.notifier.Notify("スケジュールの接続が切れました。再接続してください", notify.SeverityError)
		}
		return
	}
	att.count++
	att.lastAttempt = now
	attempt := att.count
	if sub, ok := m.subs[weekKey]; ok {
		sub.state = StateReconnecting
	}
	after := m.after
	m.mu.Unlock()

	metrics.IncReconnectAttempt()
	m.logger.Warn().Err(err).Str("week", weekKey).Int("attempt", attempt).
		Msg("transient subscription error, scheduling reconnect")
	after(ReconnectDelay, func() { m.reopen(weekKey) })
}

// reopen tears down the week's handle and subscribes again.
func (m *Manager) reopen(weekKey string) {
	m.mu.Lock()
	sub, ok := m.subs[weekKey]
	if !ok {
		m.mu.Unlock()
		return
	}
	unsubscribe := sub.unsubscribe
	delete(m.subs, weekKey)
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.EnsureSubscription(weekKey)
}

// ManualReconnect resets the week's attempt bookkeeping and recreates its
// subscription immediately, ignoring the cooldown.
func (m *Manager) ManualReconnect(weekKey string) {
	m.mu.Lock()
	delete(m.attempts, weekKey)
	delete(m.manualNeeded, weekKey)
	m.mu.Unlock()
	m.reopen(weekKey)
}

// CleanupOutOfRange evicts every subscribed week whose Monday falls outside
// [todayMonday, todayMonday+21d], except the currently displayed week. Runs
// after switching weeks so the week being navigated to is never evicted
// mid-transition.
func (m *Manager) CleanupOutOfRange(currentWeekKey string) {
	m.mu.Lock()
	todayMonday, err := model.ParseDate(model.WeekKeyFor(m.now()))
	if err != nil {
		m.mu.Unlock()
		return
	}
	windowEnd := todayMonday.AddDate(0, 0, EvictionWindowDays)

	type eviction struct {
		weekKey     string
		unsubscribe func()
	}
	var evicted []eviction
	for weekKey, sub := range m.subs {
		if weekKey == currentWeekKey {
			continue
		}
		monday, err := model.ParseDate(weekKey)
		if err != nil || monday.Before(todayMonday) || monday.After(windowEnd) {
			evicted = append(evicted, eviction{weekKey, sub.unsubscribe})
			delete(m.subs, weekKey)
			delete(m.attempts, weekKey)
			delete(m.manualNeeded, weekKey)
		}
	}
	m.mu.Unlock()

	for _, e := range evicted {
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		m.cache.Purge(e.weekKey)
		m.logger.Debug().Str("week", e.weekKey).Msg("evicted out-of-range week subscription")
	}
}

// Shutdown tears down every subscription.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*weekSub)
	m.mu.Unlock()
	for _, sub := range subs {
		if sub.unsubscribe != nil {
			sub.unsubscribe()
		}
	}
}

func (m *Manager) setState(weekKey string, s State) {
	m.mu.Lock()
	if sub, ok := m.subs[weekKey]; ok {
		sub.state = s
	}
	m.mu.Unlock()
}
