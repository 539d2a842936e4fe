// ABOUTME: Single entry point per inbound user event
// ABOUTME: Flood gate, block check, then auth machine or nav/search routing

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mechdocs/docgate/internal/metrics"
	"github.com/mechdocs/docgate/pkg/auth"
	"github.com/mechdocs/docgate/pkg/block"
	"github.com/mechdocs/docgate/pkg/flood"
	"github.com/mechdocs/docgate/pkg/nav"
	"github.com/mechdocs/docgate/pkg/search"
	"github.com/mechdocs/docgate/pkg/session"
	"github.com/mechdocs/docgate/pkg/store"
)

// Menu control labels. Bare words (without the emoji prefix) are
// accepted too, matched case-insensitively.
const (
	SearchButton = "🔍 Поиск документации"
	BackButton   = "⬅ Назад"
	HomeButton   = "🏠 Главное меню"
	ExitButton   = "🚪 Выйти"
)

// Event is one inbound user message as the transport hands it over.
type Event struct {
	UserID      int64
	DisplayName string
	Text        string
	IsCommand   bool
}

// Reply is the rendering instruction returned to the transport. A nil
// Reply means the event was dropped silently.
type Reply struct {
	Text              string
	Options           []string // menu options to render, in order
	RemoveKeyboard    bool
	EntitlementPrompt bool // render the out-of-band subscription prompt
}

// Store is the storage surface the dispatcher consults directly.
// *store.Store satisfies it.
type Store interface {
	IsSubscribed(ctx context.Context, userID int64) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]store.Binding, error)
}

// Dispatcher routes every inbound event through the flood gate, the
// block registry, and then the authorization machine or the navigation
// and search engines, depending on the session state. One Handle call
// per event; per-user serialization comes from the session manager.
type Dispatcher struct {
	gate     *flood.Gate
	blocks   *block.Registry
	sessions *session.Manager
	machine  *auth.Machine
	nav      *nav.Engine
	search   *search.Engine
	store    Store
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewDispatcher wires the event pipeline.
func NewDispatcher(gate *flood.Gate, blocks *block.Registry, sessions *session.Manager, machine *auth.Machine, navEngine *nav.Engine, searchEngine *search.Engine, st Store, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		gate:     gate,
		blocks:   blocks,
		sessions: sessions,
		machine:  machine,
		nav:      navEngine,
		search:   searchEngine,
		store:    st,
		metrics:  m,
		log:      log,
	}
}

// Handle processes one inbound event and returns the rendering
// instruction, or nil when the event is dropped silently. A panic in
// any handler is recovered so one user's event can never take the
// dispatcher down.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (reply *Reply, err error) {
	start := time.Now()
	outcome := "allowed"
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Int64("user_id", ev.UserID).
				Interface("panic", r).
				Msg("event handler panicked")
			outcome = "error"
			reply = &Reply{Text: "⚠️ Временная ошибка. Попробуйте позже."}
			err = nil
		}
		if d.metrics != nil {
			d.metrics.RecordEvent(outcome, time.Since(start))
			d.metrics.SessionsActive.Set(float64(d.sessions.Len()))
		}
	}()

	switch d.gate.Admit(ev.UserID, time.Now()) {
	case flood.Drop:
		outcome = "flood_rejected"
		return nil, nil
	case flood.Warn:
		outcome = "flood_rejected"
		if d.metrics != nil {
			d.metrics.FloodBlocksTotal.Inc()
			d.metrics.RecordBlock("flood")
		}
		return &Reply{Text: "⚠️ Слишком много сообщений. Подождите немного."}, nil
	}

	if !d.machine.IsAdmin(ev.UserID) {
		blocked, berr := d.blocks.IsBlocked(ctx, ev.UserID, time.Now())
		if berr != nil {
			outcome = "error"
			d.log.Error().Err(berr).Int64("user_id", ev.UserID).Msg("block check failed")
			return &Reply{Text: "⚠️ Временная ошибка. Попробуйте позже."}, nil
		}
		if blocked {
			outcome = "suspended"
			return nil, nil
		}
	}

	sess, release := d.sessions.Acquire(ev.UserID)
	defer release()
	sess.LastActiveAt = time.Now()

	if ev.IsCommand || strings.HasPrefix(ev.Text, "/") {
		reply, err = d.handleCommand(ctx, sess, ev)
	} else {
		reply, err = d.handleText(ctx, sess, ev)
	}
	if err != nil {
		outcome = "error"
	}
	return reply, err
}

func (d *Dispatcher) handleCommand(ctx context.Context, sess *session.Session, ev Event) (*Reply, error) {
	fields := strings.Fields(ev.Text)
	if len(fields) == 0 {
		return &Reply{Text: "⚠️ Неверный формат сообщения. Отправьте текст."}, nil
	}
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "/start":
		return d.handleStart(ctx, sess, ev)

	case "/help":
		return &Reply{Text: "🛠 Доступные команды:\n" +
			"/start — Главное меню\n" +
			"/help — Подсказка по функциям\n" +
			"/search — Поиск по документации\n" +
			"/reset — Сброс авторизации\n\n" +
			"💬 Для доступа к функциям выберите раздел из меню или воспользуйтесь поиском."}, nil

	case "/search":
		if !sess.State.Authorized() {
			return &Reply{Text: "🔐 Сначала войдите: /start", RemoveKeyboard: true}, nil
		}
		sess.State = session.StateSearching
		return &Reply{Text: "🔎 Введите ключевое слово для поиска:", RemoveKeyboard: true}, nil

	case "/reset":
		if err := d.machine.Reset(ctx, sess, ev.UserID); err != nil {
			d.log.Error().Err(err).Int64("user_id", ev.UserID).Msg("auth reset failed")
			return &Reply{Text: "⚠️ Временная ошибка. Попробуйте позже."}, err
		}
		return &Reply{Text: "🔁 Авторизация сброшена.\n🔐 Введите табельный номер повторно:", RemoveKeyboard: true}, nil

	case "/admin", "/users", "/log":
		if !d.machine.IsAdmin(ev.UserID) {
			if err := d.machine.HandleViolation(ctx, ev.UserID, ev.DisplayName, cmd); err != nil {
				d.log.Error().Err(err).Int64("user_id", ev.UserID).Msg("violation handling failed")
				return &Reply{Text: "⚠️ Временная ошибка. Попробуйте позже."}, err
			}
			if d.metrics != nil {
				d.metrics.RecordBlock("violation")
			}
			return &Reply{Text: "⛔ Вы временно заблокированы за попытку доступа к административной команде."}, nil
		}
		if cmd == "/admin" {
			return &Reply{Text: "👨‍🔧 Админ-панель:\n" +
				"/users — Последние авторизации\n" +
				"/reset — Сброс авторизации\n" +
				"/start — Главное меню"}, nil
		}
		return d.handleUserList(ctx)

	default:
		return &Reply{Text: "ℹ️ Неизвестная команда. Напишите /help."}, nil
	}
}

func (d *Dispatcher) handleStart(ctx context.Context, sess *session.Session, ev Event) (*Reply, error) {
	outcome, err := d.machine.Start(ctx, sess, ev.UserID)
	if err != nil {
		d.log.Error().Err(err).Int64("user_id", ev.UserID).Msg("start failed")
		return &Reply{Text: "⚠️ Временная ошибка. Попробуйте позже."}, err
	}

	switch outcome {
	case auth.OutcomeAuthorized:
		view := d.nav.ViewAt(sess.Path)
		return &Reply{
			Text:    "👋 Рады видеть вас снова!\nВыберите раздел:",
			Options: menuOptions(view),
		}, nil
	case auth.OutcomeRevoked:
		return &Reply{
			Text:           "⛔ Ваш доступ был отозван администратором.\n🔐 Введите табельный номер повторно для запроса доступа:",
			RemoveKeyboard: true,
		}, nil
	default:
		return &Reply{
			Text:           "🔐 Введите табельный номер для входа:\nℹ️ Напишите /help, если вам нужна информация о командах.",
			RemoveKeyboard: true,
		}, nil
	}
}

func (d *Dispatcher) handleUserList(ctx context.Context) (*Reply, error) {
	users, err := d.store.ListRecent(ctx, 10)
	if err != nil {
		d.log.Error().Err(err).Msg("listing recent bindings failed")
		return &Reply{Text: "⚠️ Временная ошибка. Попробуйте позже."}, err
	}
	if len(users) == 0 {
		return &Reply{Text: "📭 Журнал пуст."}, nil
	}

	lines := make([]string, 0, len(users))
	for _, u := range users {
		lines = append(lines, fmt.Sprintf("👤 %s\nID: %d\n⏱ %s", u.FullName, u.UserID, u.AuthTime.Format("2006-01-02 15:04:05")))
	}
	return &Reply{Text: strings.Join(lines, "\n\n")}, nil
}

func (d *Dispatcher) handleText(ctx context.Context, sess *session.Session, ev Event) (*Reply, error) {
	switch sess.State {
	case session.StateIdle:
		// Re-derive the real state from the stored credential, then
		// let an already-authorized user's text fall through to
		// navigation.
		reply, err := d.handleStart(ctx, sess, ev)
		if err != nil || !sess.State.Authorized() {
			return reply, err
		}
		return d.handleBrowsing(ctx, sess, ev)

	case session.StateAwaitingCredential:
		return d.handleCredential(ctx, sess, ev)

	case session.StateAwaitingApproval:
		return &Reply{Text: "⏳ Ваш запрос ещё рассматривается администратором."}, nil

	case session.StateBrowsing:
		return d.handleBrowsing(ctx, sess, ev)

	case session.StateSearching:
		return d.handleSearch(sess, ev)

	case session.StateSelecting:
		return d.handleSelection(sess, ev)
	}
	return nil, nil
}

func (d *Dispatcher) handleCredential(ctx context.Context, sess *session.Session, ev Event) (*Reply, error) {
	outcome, err := d.machine.SubmitCredential(ctx, sess, ev.UserID, ev.DisplayName, ev.Text)
	if err != nil {
		d.log.Error().Err(err).Int64("user_id", ev.UserID).Msg("credential handling failed")
		return &Reply{Text: "⚠️ Временная ошибка. Попробуйте позже."}, err
	}

	switch outcome {
	case auth.OutcomeAuthorized:
		d.recordAuth("accepted")
		view := d.nav.ViewAt(nil)
		return &Reply{
			Text:    fmt.Sprintf("✅ Авторизация успешна! Добро пожаловать, %s.", ev.DisplayName),
			Options: menuOptions(view),
		}, nil

	case auth.OutcomeMalformed:
		return &Reply{Text: "⚠️ Пожалуйста, введите только табельный номер."}, nil

	case auth.OutcomeDuplicate:
		d.recordAuth("duplicate")
		return &Reply{Text: "⚠️ Этот табельный номер уже занят другим пользователем.\n🔐 Введите табельный номер для входа ещё раз:"}, nil

	case auth.OutcomeBlocked:
		d.recordAuth("blocked")
		if d.metrics != nil {
			d.metrics.RecordBlock("auth")
		}
		return &Reply{Text: "⛔ Превышено число попыток входа.\nВы временно заблокированы. Попробуйте позже."}, nil

	case auth.OutcomeSuspended:
		return nil, nil

	case auth.OutcomePendingApproval:
		d.recordAuth("denied")
		return &Reply{Text: "📨 Ваш запрос на доступ отправлен администратору.\n⏳ Пожалуйста, дождитесь подтверждения."}, nil
	}
	return nil, nil
}

func (d *Dispatcher) handleBrowsing(ctx context.Context, sess *session.Session, ev Event) (*Reply, error) {
	text := strings.TrimSpace(ev.Text)

	switch strings.ToLower(text) {
	case strings.ToLower(ExitButton), "выйти":
		sess.Reset()
		return &Reply{Text: "🔒 Вы вышли из системы.\n/start — чтобы войти снова", RemoveKeyboard: true}, nil

	case strings.ToLower(BackButton), "назад":
		path, view := d.nav.Back(sess.Path)
		sess.Path = path
		d.recordNav("back")
		return &Reply{Text: "📂 Назад", Options: menuOptions(view)}, nil

	case strings.ToLower(HomeButton), "главное меню":
		path, view := d.nav.Home()
		sess.Path = path
		d.recordNav("home")
		return &Reply{Text: "🏠 Главное меню", Options: menuOptions(view)}, nil

	case strings.ToLower(SearchButton):
		sess.State = session.StateSearching
		return &Reply{Text: "🔎 Введите ключевое слово для поиска:", RemoveKeyboard: true}, nil
	}

	entitled := d.machine.IsAdmin(ev.UserID)
	if !entitled {
		subscribed, err := d.store.IsSubscribed(ctx, ev.UserID)
		if err != nil {
			d.log.Error().Err(err).Int64("user_id", ev.UserID).Msg("subscription check failed")
			return &Reply{Text: "⚠️ Временная ошибка. Попробуйте позже."}, err
		}
		entitled = subscribed
	}

	path, view, err := d.nav.Enter(sess.Path, text, entitled)
	switch {
	case errors.Is(err, nav.ErrGated):
		return &Reply{
			Text:              fmt.Sprintf("🔒 Раздел «%s» доступен только по подписке.\n📝 Свяжитесь с администратором для оформления.", text),
			EntitlementPrompt: true,
		}, nil
	case errors.Is(err, nav.ErrNotFound):
		return &Reply{Text: "❗ Раздел не найден. Выберите из меню."}, nil
	case err != nil:
		return &Reply{Text: "⚠️ Временная ошибка. Попробуйте позже."}, err
	}

	sess.Path = path
	d.recordNav("enter")

	if view.Leaf {
		// The parent's menu stays current, so render back controls.
		return &Reply{
			Text:    "📄 Описание:\n\n" + view.Content,
			Options: []string{BackButton, HomeButton},
		}, nil
	}

	body := "📁 Раздел: " + path[len(path)-1]
	if view.Description != "" {
		body = "📄 Описание:\n\n" + view.Description + "\n\n" + body
	}
	return &Reply{Text: body, Options: menuOptions(view)}, nil
}

func (d *Dispatcher) handleSearch(sess *session.Session, ev Event) (*Reply, error) {
	query := strings.TrimSpace(ev.Text)
	switch strings.ToLower(query) {
	case "search", "reset":
		return &Reply{Text: "⚠️ Вы уже находитесь в режиме поиска. Введите ключевое слово или нажмите «Назад»."}, nil
	case strings.ToLower(BackButton), "назад", strings.ToLower(HomeButton), "главное меню":
		sess.State = session.StateBrowsing
		path, view := d.nav.Home()
		sess.Path = path
		return &Reply{Text: "🏠 Главное меню", Options: menuOptions(view)}, nil
	}

	results := d.search.Search(query)
	if d.metrics != nil {
		d.metrics.RecordSearch(len(results))
	}
	if len(results) == 0 {
		return &Reply{Text: "❌ По вашему запросу ничего не найдено. Попробуйте другое слово."}, nil
	}

	sess.State = session.StateSelecting
	sess.SearchResults = results

	labels := make([]string, 0, len(results))
	for label := range results {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	options := append(labels, BackButton, HomeButton)
	return &Reply{Text: "🔍 Найдено:\nВыберите раздел:", Options: options}, nil
}

func (d *Dispatcher) handleSelection(sess *session.Session, ev Event) (*Reply, error) {
	text := strings.TrimSpace(ev.Text)

	if path, ok := sess.SearchResults[text]; ok {
		sess.Path = append([]string(nil), path...)
		sess.State = session.StateBrowsing
		sess.SearchResults = nil
		d.recordNav("select")
		view := d.nav.ViewAt(sess.Path)
		return &Reply{Text: "📁 Перейдено к: " + text, Options: menuOptions(view)}, nil
	}

	switch strings.ToLower(text) {
	case strings.ToLower(BackButton), "назад":
		sess.State = session.StateBrowsing
		sess.SearchResults = nil
		view := d.nav.ViewAt(sess.Path)
		return &Reply{Text: "🔙 Назад в меню", Options: menuOptions(view)}, nil
	case strings.ToLower(HomeButton), "главное меню":
		sess.State = session.StateBrowsing
		sess.SearchResults = nil
		path, view := d.nav.Home()
		sess.Path = path
		return &Reply{Text: "🏠 Главное меню", Options: menuOptions(view)}, nil
	}

	return &Reply{Text: "❗ Раздел не найден. Пожалуйста, выберите из списка."}, nil
}

func (d *Dispatcher) recordAuth(status string) {
	if d.metrics != nil {
		d.metrics.RecordAuthAttempt(status)
	}
}

func (d *Dispatcher) recordNav(action string) {
	if d.metrics != nil {
		d.metrics.NavigationsTotal.WithLabelValues(action).Inc()
	}
}

// menuOptions renders a node view as an ordered option list: the search
// entry at the root, the node's child keys, back and home below the
// root, and the exit control last.
func menuOptions(v *nav.View) []string {
	opts := make([]string, 0, len(v.Keys)+4)
	if v.Root {
		opts = append(opts, SearchButton)
	}
	opts = append(opts, v.Keys...)
	if !v.Root {
		opts = append(opts, BackButton, HomeButton)
	}
	return append(opts, ExitButton)
}
