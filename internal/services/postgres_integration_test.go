package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"stockledger/internal/caching"
	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/repositories"
	"stockledger/testhelpers"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newPostgresEnv(t *testing.T) (*testEnv, *testhelpers.TestDB) {
	db := testhelpers.SetupTestDB(t)
	env := &testEnv{
		clock:      &common.FixedClock{T: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		dispatcher: new(MockDispatcher),
	}
	env.dispatcher.On("Send", mock.Anything, mock.Anything).Return(nil).Maybe()
	txm := repositories.NewPgTxManager(db.Pool)
	stock := repositories.NewStockRepo(db.Pool)
	env.cache = caching.NewMemoryCacheService(env.clock)
	env.catalog = NewProductService(repositories.NewProductRepo(db.Pool), env.cache, time.Minute, nil)
	env.suppliers = NewSupplierService(repositories.NewSupplierRepository(db.Pool), env.cache, env.clock, time.Minute, nil)
	env.alerts = NewAlertService(repositories.NewAlertRepo(db.Pool), stock, env.catalog, env.dispatcher, env.cache, env.clock,
		DefaultAlertSettings(), nil)
	env.ledger = NewLedgerService(txm, stock, env.cache, env.alerts, env.clock, DefaultLedgerSettings(), nil)
	env.reservations = NewReservationService(txm, repositories.NewReservationRepo(db.Pool), env.ledger, env.alerts,
		env.clock, DefaultReservationSettings(), nil)
	env.reorder = NewReorderService(txm, repositories.NewReorderRepo(db.Pool), stock, env.ledger, env.catalog,
		env.suppliers, env.alerts, env.clock, DefaultReorderSettings(), nil)
	t.Cleanup(env.alerts.Wait)
	return env, db
}

func TestPostgres_ReserveCommitReconcile(t *testing.T) {
	env, db := newPostgresEnv(t)
	ctx := context.Background()
	product := testhelpers.SetupTestProduct(t, db, "Rye Flour", "RYE-1", decimal.NewFromInt(4))

	_, err := env.ledger.ApplyMovement(ctx, models.MovementInput{
		ProductID: product.ID, Type: models.MovementInitialStock, Quantity: 30, Actor: "seed",
	})
	require.NoError(t, err)

	res, err := env.reservations.Reserve(ctx, models.ReserveInput{
		ProductID: product.ID, Quantity: 12, Holder: models.OrderHolder("order-pg-1"),
	})
	require.NoError(t, err)

	_, err = env.reservations.Reserve(ctx, models.ReserveInput{
		ProductID: product.ID, Quantity: 19, Holder: models.OrderHolder("order-pg-2"),
	})
	assert.True(t, common.IsInsufficientStock(err))

	_, err = env.reservations.Commit(ctx, res.ID, "checkout")
	require.NoError(t, err)

	rec, err := env.ledger.GetStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 18, rec.QuantityOnHand)
	assert.Equal(t, 0, rec.ReservedQuantity)

	report, err := env.ledger.Reconcile(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced)
}

func TestPostgres_ConcurrentSalesNeverOversell(t *testing.T) {
	env, db := newPostgresEnv(t)
	ctx := context.Background()
	product := testhelpers.SetupTestProduct(t, db, "Oat Milk", "OAT-1", decimal.NewFromInt(3))

	_, err := env.ledger.ApplyMovement(ctx, models.MovementInput{
		ProductID: product.ID, Type: models.MovementInitialStock, Quantity: 10, Actor: "seed",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.ledger.ApplyMovement(ctx, models.MovementInput{
				ProductID: product.ID, Type: models.MovementSale, Quantity: 3,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, common.IsInsufficientStock(err), err.Error())
	}
	assert.Equal(t, 3, succeeded)

	rec, err := env.ledger.GetStock(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.QuantityOnHand)

	alerts, err := env.alerts.ListAlerts(ctx, models.AlertFilter{ProductID: &product.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, alerts)
}
