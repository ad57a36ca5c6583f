// Package sqlstore is a domain.Store over sqlite or postgres. Listeners poll
// their query and are refreshed right after every write through the store.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"  // Registers the postgres driver
	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/conorfennell/knoldeck/internal/adapter/authstate"
	"github.com/conorfennell/knoldeck/internal/domain"
)

// Dialect names a supported database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DefaultPollInterval is how often listeners re-run their query when nothing
// is written through the store.
const DefaultPollInterval = 2 * time.Second

// Store is a database-backed domain.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
	poll    time.Duration
	auth    *authstate.State
	newID   func() string

	mu        sync.Mutex
	listeners map[refresher]struct{}
	lastStamp int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithPollInterval sets how often listeners re-query.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithPrincipal signs p in from the start.
func WithPrincipal(p domain.Principal) Option {
	return func(s *Store) { s.auth = authstate.New(p) }
}

// Open connects to the database, applies the schema migrations and returns
// the store.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	var driver string
	switch dialect {
	case SQLite:
		driver = "sqlite"
	case Postgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported store driver %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateUp(dialect, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:        db,
		dialect:   dialect,
		log:       slog.Default(),
		poll:      DefaultPollInterval,
		auth:      authstate.New(domain.Principal{}),
		newID:     func() string { return uuid.New().String() },
		listeners: make(map[refresher]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Info("store opened", "driver", string(dialect))
	return s, nil
}

// Close stops every listener and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	ls := make([]refresher, 0, len(s.listeners))
	for l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()
	for _, l := range ls {
		l.Remove()
	}
	return s.db.Close()
}

// SignIn sets the principal and notifies auth listeners.
func (s *Store) SignIn(p domain.Principal) {
	s.auth.Set(p)
}

// SignOut clears the principal.
func (s *Store) SignOut() {
	s.auth.Set(domain.Principal{})
}

// ListenAuth implements domain.Store.
func (s *Store) ListenAuth(onChange func(domain.Principal)) domain.Registration {
	return s.auth.Listen(onChange)
}

// ListenDecks implements domain.Store.
func (s *Store) ListenDecks(q domain.Query, onItems func([]domain.Deck), onError func(error)) domain.Registration {
	return startPoller(s, func(ctx context.Context) ([]domain.Deck, error) {
		return s.decks(ctx, q.UID)
	}, onItems, onError)
}

// ListenCards implements domain.Store.
func (s *Store) ListenCards(q domain.Query, onItems func([]domain.Card), onError func(error)) domain.Registration {
	return startPoller(s, func(ctx context.Context) ([]domain.Card, error) {
		return s.cards(ctx, q.UID, q.DeckID)
	}, onItems, onError)
}

// Mutate implements domain.Store. The write runs on its own goroutine.
func (s *Store) Mutate(ctx context.Context, m domain.Mutation) <-chan domain.Result {
	out := make(chan domain.Result, 1)
	go func() {
		id, err := s.apply(ctx, m)
		if err != nil {
			s.log.Warn("write failed", "op", m.Op.String(), "path", m.Path.String(), "error", err)
		} else {
			s.refreshAll()
		}
		out <- domain.Result{ID: id, Err: err}
	}()
	return out
}

func (s *Store) register(l refresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[l] = struct{}{}
}

func (s *Store) unregister(l refresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, l)
}

func (s *Store) refreshAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for l := range s.listeners {
		l.refresh()
	}
}

// Listeners returns the number of live collection listeners.
func (s *Store) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// stamp returns a strictly increasing creation time in nanoseconds.
func (s *Store) stamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return now
}

func (s *Store) decks(ctx context.Context, uid string) ([]domain.Deck, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, name FROM decks
		WHERE uid = ?
		ORDER BY created_at, id
	`), uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query decks: %w", err)
	}
	defer rows.Close()

	var decks []domain.Deck
	for rows.Next() {
		var d domain.Deck
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("failed to scan deck: %w", err)
		}
		decks = append(decks, d)
	}
	return decks, rows.Err()
}

func (s *Store) cards(ctx context.Context, uid, deckID string) ([]domain.Card, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, deck_id, front, back, interval_days, due_date, last_reviewed
		FROM cards
		WHERE uid = ? AND deck_id = ?
		ORDER BY created_at, id
	`), uid, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		var c domain.Card
		var lastReviewed sql.NullString
		if err := rows.Scan(&c.ID, &c.DeckID, &c.Front, &c.Back, &c.IntervalDays, &c.DueDate, &lastReviewed); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		c.LastReviewed = lastReviewed.String
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

var errMissingPayload = errors.New("missing payload")

func (s *Store) apply(ctx context.Context, m domain.Mutation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch m.Path.Collection {
	case domain.Decks:
		return s.applyDeck(ctx, m)
	case domain.Cards:
		return s.applyCard(ctx, m)
	}
	return "", fmt.Errorf("unknown collection %q", m.Path.Collection)
}

func (s *Store) applyDeck(ctx context.Context, m domain.Mutation) (string, error) {
	uid, id := m.Path.UID, m.Path.ID
	switch m.Op {
	case domain.Insert:
		if m.Deck == nil {
			return "", errMissingPayload
		}
		id = s.newID()
		now := s.stamp()
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO decks (id, uid, name, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`), id, uid, m.Deck.Name, now, now)
		if err != nil {
			return "", fmt.Errorf("failed to insert deck: %w", err)
		}
		return id, nil

	case domain.Update:
		if m.Deck == nil {
			return "", errMissingPayload
		}
		res, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE decks SET name = ?, updated_at = ? WHERE uid = ? AND id = ?
		`), m.Deck.Name, time.Now().UnixNano(), uid, id)
		if err != nil {
			return "", fmt.Errorf("failed to update deck %s: %w", id, err)
		}
		return id, expectRow(res, "deck", id)

	case domain.Delete:
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return "", fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM cards WHERE uid = ? AND deck_id = ?`), uid, id); err != nil {
			return "", fmt.Errorf("failed to delete cards of deck %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM decks WHERE uid = ? AND id = ?`), uid, id)
		if err != nil {
			return "", fmt.Errorf("failed to delete deck %s: %w", id, err)
		}
		if err := expectRow(res, "deck", id); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("failed to commit deck delete: %w", err)
		}
		return id, nil
	}
	return "", fmt.Errorf("unknown op %v", m.Op)
}

func (s *Store) applyCard(ctx context.Context, m domain.Mutation) (string, error) {
	uid, id := m.Path.UID, m.Path.ID
	switch m.Op {
	case domain.Insert:
		if m.Card == nil {
			return "", errMissingPayload
		}
		c := *m.Card
		id = s.newID()
		now := s.stamp()
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO cards (id, uid, deck_id, front, back, interval_days, due_date, last_reviewed, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), id, uid, c.DeckID, c.Front, c.Back, c.IntervalDays, c.DueDate, nullable(c.LastReviewed), now, now)
		if err != nil {
			return "", fmt.Errorf("failed to insert card: %w", err)
		}
		return id, nil

	case domain.Update:
		if m.Card == nil {
			return "", errMissingPayload
		}
		c := *m.Card
		res, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE cards
			SET front = ?, back = ?, interval_days = ?, due_date = ?, last_reviewed = ?, updated_at = ?
			WHERE uid = ? AND id = ?
		`), c.Front, c.Back, c.IntervalDays, c.DueDate, nullable(c.LastReviewed), time.Now().UnixNano(), uid, id)
		if err != nil {
			return "", fmt.Errorf("failed to update card %s: %w", id, err)
		}
		return id, expectRow(res, "card", id)

	case domain.Delete:
		res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM cards WHERE uid = ? AND id = ?`), uid, id)
		if err != nil {
			return "", fmt.Errorf("failed to delete card %s: %w", id, err)
		}
		return id, expectRow(res, "card", id)
	}
	return "", fmt.Errorf("unknown op %v", m.Op)
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) rebind(query string) string {
	return rebind(s.dialect, query)
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
