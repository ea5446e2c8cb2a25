package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pettycash/internal/model"
	"pettycash/internal/repository"
	"pettycash/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

var (
	cashier = Caller{UserID: uuid.New(), Role: model.RoleCashier}
	admin   = Caller{UserID: uuid.New(), Role: model.RoleAdministrator}
	guest   = Caller{UserID: uuid.New(), Role: "guest"}
)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

// fakeNotifier records enqueued closure ids.
type fakeNotifier struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (n *fakeNotifier) EnqueueClosureReport(_ context.Context, id uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
	return n.err
}

// fakeKeys is an in-memory KeyStore.
type fakeKeys struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newFakeKeys() *fakeKeys { return &fakeKeys{held: map[string]bool{}} }

func (k *fakeKeys) Reserve(_ context.Context, key string, _ time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return false, k.err
	}
	if k.held[key] {
		return false, nil
	}
	k.held[key] = true
	return true, nil
}

// Release fails on a done context, as go-redis does.
func (k *fakeKeys) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.held, key)
	return nil
}

func (k *fakeKeys) isHeld(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.held[key]
}

// fakeObserver counts committed ledger entries by kind.
type fakeObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *fakeObserver) LedgerEntryRecorded(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[kind]++
}

func (o *fakeObserver) count(kind string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[kind]
}

var errRedisDown = errors.New("redis down")

type fixture struct {
	db       *gorm.DB
	repo     repository.CashRepository
	sessions *sessionService
	ledger   *ledgerService
	recon    *reconciliationService
	notifier *fakeNotifier
	keys     *fakeKeys
	observer *fakeObserver
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repo := repository.NewCashRepository(db)
	f := &fixture{
		db:       db,
		repo:     repo,
		notifier: &fakeNotifier{},
		keys:     newFakeKeys(),
		observer: &fakeObserver{},
		clock:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }

	f.sessions = NewSessionService(repo, RoleAuthorizer{}, f.notifier).(*sessionService)
	f.sessions.now = now
	f.ledger = NewLedgerService(repo, RoleAuthorizer{}, f.keys, time.Hour, f.observer).(*ledgerService)
	f.ledger.now = now
	f.recon = NewReconciliationService(repo).(*reconciliationService)
	f.recon.now = now
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }
