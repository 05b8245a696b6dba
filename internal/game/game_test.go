package game

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/femildignizant/tambola/internal/broker"
	"github.com/femildignizant/tambola/internal/database"
	"github.com/femildignizant/tambola/internal/lock"
	"github.com/femildignizant/tambola/internal/migrations"
	"github.com/femildignizant/tambola/internal/store/sqlite"
	"github.com/femildignizant/tambola/internal/tambola"
)

type recorder struct {
	mu     sync.Mutex
	events []broker.Event
}

func (r *recorder) Publish(_ string, e broker.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last(typ string) (broker.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return broker.Event{}, false
}

type fixture struct {
	svc    *Service
	store  *sqlite.Store
	locks  *lock.Local
	events *recorder
	hostID string
}

func ptr(n int) *int { return &n }

var testPresets = map[string][]tambola.GamePattern{
	"test": {
		{Pattern: tambola.EarlyFive, Enabled: true, Points1st: 100, Points2nd: ptr(50), Points3rd: ptr(25)},
		{Pattern: tambola.TopRow, Enabled: false, Points1st: 40},
		{Pattern: tambola.FullHouse, Enabled: true, Points1st: 500},
	},
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "tambola.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db, migrations.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{
		store:  sqlite.New(db),
		locks:  lock.NewLocal(),
		events: &recorder{},
	}
	f.svc = NewService(f.store, f.locks, f.events, slog.New(slog.DiscardHandler), Config{Presets: testPresets})

	h, err := f.svc.RegisterHost(ctx, "host@example.com", "Host", "correct horse")
	if err != nil {
		t.Fatalf("register host: %v", err)
	}
	f.hostID = h.ID
	return f
}

// withStore rebuilds the service around a wrapped store.
func (f *fixture) withStore(wrap func(Store) Store) {
	s := f.svc
	f.svc = NewService(wrap(f.store), f.locks, f.events, s.logger, Config{LockTTL: s.lockTTL, Presets: s.presets})
}

func (f *fixture) lobby(t *testing.T, players int) (tambola.Game, []JoinResult) {
	t.Helper()
	ctx := context.Background()
	g, err := f.svc.CreateGame(ctx, f.hostID, "Friday night", "test")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	var joined []JoinResult
	for i := range players {
		jr, err := f.svc.Join(ctx, g.ID, fmt.Sprintf("Player %d", i+1))
		if err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
		joined = append(joined, jr)
	}
	return g, joined
}

func (f *fixture) started(t *testing.T, players int) (tambola.Game, []JoinResult) {
	t.Helper()
	g, joined := f.lobby(t, players)
	if _, err := f.svc.Start(context.Background(), f.hostID, g.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	return g, joined
}

// call appends numbers to the game's called list directly, without the
// random draw.
func (f *fixture) call(t *testing.T, gameID string, numbers ...int) {
	t.Helper()
	ctx := context.Background()
	g, err := f.store.Game(ctx, gameID)
	if err != nil {
		t.Fatal(err)
	}
	called := slices.Clone(g.CalledNumbers)
	for _, n := range numbers {
		if !slices.Contains(called, n) {
			called = append(called, n)
		}
	}
	if err := f.store.AppendNumber(ctx, gameID, g.Sequence, called, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func (f *fixture) game(t *testing.T, gameID string) tambola.Game {
	t.Helper()
	g, err := f.store.Game(context.Background(), gameID)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func allNumbers() []int {
	nums := make([]int, tambola.PoolSize)
	for i := range nums {
		nums[i] = i + 1
	}
	return nums
}

func assertCode(t *testing.T, err error, want tambola.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error, want %s", want)
	}
	if got := tambola.CodeOf(err); got != want {
		t.Fatalf("got %v, want %s", err, want)
	}
}
