package session_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-terminal/internal/ledger"
	"github.com/noah-isme/pos-terminal/internal/session"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var ident = session.Identity{TenantID: "t1", TerminalID: "term-1", BranchID: "b1", SellerID: "u1"}

func openSale(t *testing.T, store *session.Store) *session.Session {
	t.Helper()
	sess, err := store.Create(ident, nil)
	require.NoError(t, err)
	require.NoError(t, sess.Mutate(func(l *ledger.Ledger) error {
		if err := l.AddLine(ledger.Product{VariantID: "v1", UnitPrice: d("10")}, d("2")); err != nil {
			return err
		}
		return l.AddPayment(ledger.Payment{MethodID: "cash", Amount: d("23.20")})
	}))
	return sess
}

func TestCommitGateBlocksMutation(t *testing.T) {
	store := session.NewStore(session.StoreConfig{TaxRate: d("0.16")})
	sess := openSale(t, store)

	pending, err := sess.BeginCommit()
	require.NoError(t, err)
	require.True(t, pending.Snapshot.Totals.GrandTotal.Equal(d("23.2")))
	require.True(t, sess.Committing())

	err = sess.Mutate(func(l *ledger.Ledger) error { return l.SetGeneralDiscount(d("1")) })
	require.ErrorIs(t, err, session.ErrCommitInFlight)
	require.ErrorIs(t, err, ledger.ErrInvalidState)
	require.ErrorIs(t, sess.Reset(), session.ErrCommitInFlight)
	_, err = sess.BeginCommit()
	require.ErrorIs(t, err, session.ErrCommitInFlight)

	require.NoError(t, sess.FinishCommit(&session.Receipt{SaleID: "s1", Folio: "F1"}, nil))
	st := sess.State()
	require.Equal(t, ledger.Committed, st.Sale.State)
	require.Equal(t, "F1", st.Receipt.Folio)

	err = sess.Mutate(func(l *ledger.Ledger) error { return l.RemovePayment(0) })
	require.ErrorIs(t, err, ledger.ErrInvalidState)

	require.NoError(t, sess.Reset())
	st = sess.State()
	require.Equal(t, ledger.Open, st.Sale.State)
	require.Nil(t, st.Receipt)
	require.Empty(t, st.Sale.Lines)
}

func TestFailedCommitLeavesSaleOpen(t *testing.T) {
	store := session.NewStore(session.StoreConfig{TaxRate: d("0.16")})
	sess := openSale(t, store)

	_, err := sess.BeginCommit()
	require.NoError(t, err)
	boom := errors.New("backend down")
	require.ErrorIs(t, sess.FinishCommit(nil, boom), boom)

	st := sess.State()
	require.Equal(t, ledger.Open, st.Sale.State)
	require.False(t, st.Committing)
	require.Len(t, st.Sale.Lines, 1)
	require.NoError(t, sess.Mutate(func(l *ledger.Ledger) error { return l.RemovePayment(0) }))

	require.ErrorIs(t, sess.FinishCommit(nil, nil), session.ErrNoCommit)
}

func TestBeginCommitValidates(t *testing.T) {
	store := session.NewStore(session.StoreConfig{})
	sess, err := store.Create(ident, nil)
	require.NoError(t, err)
	_, err = sess.BeginCommit()
	require.ErrorIs(t, err, ledger.ErrNotCommittable)
	require.False(t, sess.Committing())
}

func TestCustomerSelection(t *testing.T) {
	store := session.NewStore(session.StoreConfig{})
	sess, err := store.Create(ident, nil)
	require.NoError(t, err)
	require.NoError(t, sess.SetCustomer(&session.Customer{CustomerID: "c1", Name: "Ana"}))
	require.NoError(t, sess.SetNotes("deliver tomorrow"))
	st := sess.State()
	require.Equal(t, "c1", st.Customer.CustomerID)
	require.Equal(t, "deliver tomorrow", st.Notes)
	require.NoError(t, sess.SetCustomer(nil))
	require.Nil(t, sess.State().Customer)
}

func TestCustomerAndNotesChangeTogether(t *testing.T) {
	store := session.NewStore(session.StoreConfig{TaxRate: d("0.16")})
	sess := openSale(t, store)
	notes := "first visit"
	require.NoError(t, sess.SetCustomerAndNotes(&session.Customer{CustomerID: "c1"}, &notes))

	_, err := sess.BeginCommit()
	require.NoError(t, err)
	other := "changed"
	require.ErrorIs(t, sess.SetCustomerAndNotes(&session.Customer{CustomerID: "c2"}, &other), session.ErrCommitInFlight)
	require.NoError(t, sess.FinishCommit(&session.Receipt{SaleID: "s1", Folio: "F1"}, nil))
	require.ErrorIs(t, sess.SetCustomerAndNotes(nil, &other), ledger.ErrInvalidState)

	st := sess.State()
	require.Equal(t, "c1", st.Customer.CustomerID)
	require.Equal(t, "first visit", st.Notes)
}

func TestCustomerAndNotesAreNeverTorn(t *testing.T) {
	store := session.NewStore(session.StoreConfig{})
	sess, err := store.Create(ident, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			note := "for " + id
			_ = sess.SetCustomerAndNotes(&session.Customer{CustomerID: id}, &note)
		}(i)
	}
	for i := 0; i < 200; i++ {
		st := sess.State()
		if st.Customer != nil && st.Notes != "for "+st.Customer.CustomerID {
			t.Fatalf("customer %s with notes %q", st.Customer.CustomerID, st.Notes)
		}
	}
	wg.Wait()
}

func TestConcurrentMutationsAreSerialised(t *testing.T) {
	store := session.NewStore(session.StoreConfig{})
	sess, err := store.Create(ident, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sess.Mutate(func(l *ledger.Ledger) error {
				return l.AddLine(ledger.Product{VariantID: "v1", UnitPrice: d("1")}, d("1"))
			})
		}()
	}
	wg.Wait()
	st := sess.State()
	require.Len(t, st.Sale.Lines, 1)
	require.True(t, st.Sale.Lines[0].Quantity.Equal(d("50")))
}

func TestStoreScopesAndSweeps(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := session.NewStore(session.StoreConfig{IdleTTL: time.Hour, Now: clock})

	rate := d("0.08")
	a, err := store.Create(ident, &rate)
	require.NoError(t, err)
	require.True(t, a.State().Sale.TaxRate.Equal(rate))

	_, err = store.Get("other-tenant", a.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
	got, err := store.Get("t1", a.ID)
	require.NoError(t, err)
	require.Same(t, a, got)

	b, err := store.Create(ident, nil)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	b.State()
	require.Equal(t, 1, store.Sweep())
	require.Equal(t, 1, store.Len())
	_, err = store.Get("t1", a.ID)
	require.ErrorIs(t, err, session.ErrNotFound)

	_, err = store.Discard("t1", b.ID)
	require.NoError(t, err)
	require.Equal(t, 0, store.Len())

	_, err = store.Create(session.Identity{TenantID: "t1"}, nil)
	require.Error(t, err)
	negative := d("-1")
	_, err = store.Create(ident, &negative)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
}
