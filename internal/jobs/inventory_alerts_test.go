package jobs

import (
	"context"
	"errors"
	"testing"

	"stockledger/internal/models"
	"stockledger/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// MockLedgerService mocks the ledger calls the scan jobs make.
type MockLedgerService struct {
	services.LedgerService
	mock.Mock
}

func (m *MockLedgerService) ListLowStock(ctx context.Context) ([]*models.StockRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.StockRecord), args.Error(1)
}

type MockAlertService struct {
	services.AlertService
	mock.Mock
}

func (m *MockAlertService) EvaluateStock(ctx context.Context, record *models.StockRecord) ([]*models.StockAlert, error) {
	args := m.Called(ctx, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.StockAlert), args.Error(1)
}

func (m *MockAlertService) ActiveLowStockAlerts(ctx context.Context) ([]*models.StockAlert, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.StockAlert), args.Error(1)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) GetProduct(ctx context.Context, productID uuid.UUID) (*models.ProductInfo, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProductInfo), args.Error(1)
}

type MockReservationService struct {
	services.ReservationService
	mock.Mock
}

func (m *MockReservationService) SweepExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockReorderService struct {
	services.ReorderService
	mock.Mock
}

func (m *MockReorderService) ScanAndSuggest(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type LowStockScannerTestSuite struct {
	suite.Suite
	ledger  *MockLedgerService
	alerts  *MockAlertService
	catalog *MockCatalog
	scanner *LowStockScanner
	ctx     context.Context
}

func (suite *LowStockScannerTestSuite) SetupTest() {
	suite.ledger = new(MockLedgerService)
	suite.alerts = new(MockAlertService)
	suite.catalog = new(MockCatalog)
	suite.scanner = NewLowStockScanner(suite.ledger, suite.alerts, suite.catalog, nil)
	suite.ctx = context.Background()
}

func (suite *LowStockScannerTestSuite) TearDownTest() {
	suite.ledger.AssertExpectations(suite.T())
	suite.alerts.AssertExpectations(suite.T())
	suite.catalog.AssertExpectations(suite.T())
}

func lowRecord(qty, reserved, threshold int) *models.StockRecord {
	return &models.StockRecord{
		ID:                uuid.New(),
		ProductID:         uuid.New(),
		QuantityOnHand:    qty,
		ReservedQuantity:  reserved,
		LowStockThreshold: threshold,
		TrackInventory:    true,
	}
}

func (suite *LowStockScannerTestSuite) TestCheckLowStock_ResolvesNames() {
	named := lowRecord(4, 1, 10)
	unnamed := lowRecord(0, 0, 5)

	suite.ledger.On("ListLowStock", suite.ctx).Return([]*models.StockRecord{named, unnamed}, nil).Once()
	suite.catalog.On("GetProduct", suite.ctx, named.ProductID).Return(&models.ProductInfo{ID: named.ProductID, Name: "Widget"}, nil).Once()
	suite.catalog.On("GetProduct", suite.ctx, unnamed.ProductID).Return(nil, errors.New("not found")).Once()

	result, err := suite.scanner.CheckLowStock(suite.ctx)

	suite.NoError(err)
	suite.Len(result, 2)
	suite.Equal("Widget", result[0].ProductName)
	suite.Equal(4, result[0].CurrentStock)
	suite.Equal(3, result[0].AvailableQuantity)
	suite.Equal(10, result[0].Threshold)
	suite.Equal(unnamed.ProductID.String(), result[1].ProductName)
}

func (suite *LowStockScannerTestSuite) TestCheckLowStock_ListError() {
	suite.ledger.On("ListLowStock", suite.ctx).Return(nil, errors.New("database error")).Once()

	result, err := suite.scanner.CheckLowStock(suite.ctx)

	suite.Error(err)
	suite.Nil(result)
}

func (suite *LowStockScannerTestSuite) TestRun_EvaluatesEveryRecord() {
	first := lowRecord(3, 0, 10)
	second := lowRecord(0, 0, 10)
	failing := lowRecord(1, 0, 10)

	suite.ledger.On("ListLowStock", suite.ctx).Return([]*models.StockRecord{first, failing, second}, nil).Once()
	suite.alerts.On("EvaluateStock", suite.ctx, first).Return([]*models.StockAlert{{ID: uuid.New()}, {ID: uuid.New()}}, nil).Once()
	suite.alerts.On("EvaluateStock", suite.ctx, failing).Return(nil, errors.New("boom")).Once()
	suite.alerts.On("EvaluateStock", suite.ctx, second).Return([]*models.StockAlert{}, nil).Once()
	suite.alerts.On("ActiveLowStockAlerts", suite.ctx).Return([]*models.StockAlert{}, nil).Once()

	suite.NoError(suite.scanner.Run(suite.ctx))
}

func (suite *LowStockScannerTestSuite) TestRun_ListError() {
	suite.ledger.On("ListLowStock", suite.ctx).Return(nil, errors.New("database error")).Once()

	suite.Error(suite.scanner.Run(suite.ctx))
	suite.alerts.AssertNotCalled(suite.T(), "ActiveLowStockAlerts", mock.Anything)
}

func (suite *LowStockScannerTestSuite) TestRun_StopsOnCancelledContext() {
	ctx, cancel := context.WithCancel(suite.ctx)
	cancel()

	suite.ledger.On("ListLowStock", ctx).Return([]*models.StockRecord{lowRecord(1, 0, 10)}, nil).Once()

	err := suite.scanner.Run(ctx)
	suite.ErrorIs(err, context.Canceled)
	suite.alerts.AssertNotCalled(suite.T(), "EvaluateStock", mock.Anything, mock.Anything)
}

func TestLowStockScannerTestSuite(t *testing.T) {
	suite.Run(t, new(LowStockScannerTestSuite))
}

func TestReservationSweep_Run(t *testing.T) {
	ctx := context.Background()

	reservations := new(MockReservationService)
	reservations.On("SweepExpired", ctx).Return(3, nil).Once()

	job := NewReservationSweep(reservations, nil)
	assert.Equal(t, "reservation-sweep", job.Name())
	assert.NoError(t, job.Run(ctx))

	reservations.On("SweepExpired", ctx).Return(1, errors.New("lock timeout")).Once()
	assert.Error(t, job.Run(ctx))

	reservations.AssertExpectations(t)
}

func TestReorderScan_Run(t *testing.T) {
	ctx := context.Background()

	reorder := new(MockReorderService)
	reorder.On("ScanAndSuggest", ctx).Return(2, nil).Once()

	job := NewReorderScan(reorder, nil)
	assert.Equal(t, "reorder-scan", job.Name())
	assert.NoError(t, job.Run(ctx))

	reorder.On("ScanAndSuggest", ctx).Return(0, errors.New("database error")).Once()
	assert.Error(t, job.Run(ctx))

	reorder.AssertExpectations(t)
}
