package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"stockledger/internal/common"
	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type AlertServiceTestSuite struct {
	suite.Suite
	env     *testEnv
	context context.Context
}

func (suite *AlertServiceTestSuite) SetupTest() {
	suite.env = newTestEnv()
	suite.context = common.WithActor(context.Background(), "ops-1")
}

func (suite *AlertServiceTestSuite) TearDownTest() {
	suite.env.alerts.Wait()
}

func TestAlertServiceTestSuite(t *testing.T) {
	suite.Run(t, new(AlertServiceTestSuite))
}

func (suite *AlertServiceTestSuite) lowStock(productID uuid.UUID) models.AlertCandidate {
	return models.AlertCandidate{
		ProductID: productID,
		Type:      models.AlertTypeLowStock,
		Severity:  models.SeverityHigh,
		Message:   "low",
		Metadata:  models.JSONB{"quantity_on_hand": 4},
	}
}

func (suite *AlertServiceTestSuite) saveConfig(cfg *models.AlertConfiguration) *models.AlertConfiguration {
	saved, err := suite.env.alerts.SaveConfiguration(suite.context, cfg)
	suite.Require().NoError(err)
	return saved
}

func (suite *AlertServiceTestSuite) TestRaise_DedupWithinWindow() {
	productID := uuid.New()

	first, created, err := suite.env.alerts.Raise(suite.context, suite.lowStock(productID))
	suite.Require().NoError(err)
	assert.True(suite.T(), created)

	suite.env.clock.Advance(23 * time.Hour)
	again, created, err := suite.env.alerts.Raise(suite.context, suite.lowStock(productID))
	suite.Require().NoError(err)
	assert.False(suite.T(), created)
	assert.Equal(suite.T(), first.ID, again.ID)

	suite.env.clock.Advance(2 * time.Hour)
	later, created, err := suite.env.alerts.Raise(suite.context, suite.lowStock(productID))
	suite.Require().NoError(err)
	assert.True(suite.T(), created)
	assert.NotEqual(suite.T(), first.ID, later.ID)
}

func (suite *AlertServiceTestSuite) TestRaise_Validation() {
	_, _, err := suite.env.alerts.Raise(suite.context, models.AlertCandidate{Type: models.AlertTypeLowStock, Severity: models.SeverityHigh})
	assert.True(suite.T(), common.IsValidation(err))

	_, _, err = suite.env.alerts.Raise(suite.context, models.AlertCandidate{
		ProductID: uuid.New(), Type: models.AlertTypeLowStock, Severity: "LOUD",
	})
	assert.True(suite.T(), common.IsValidation(err))
}

func (suite *AlertServiceTestSuite) TestStateChanges() {
	alert, _, err := suite.env.alerts.Raise(suite.context, suite.lowStock(uuid.New()))
	suite.Require().NoError(err)

	read, err := suite.env.alerts.MarkRead(suite.context, alert.ID, "")
	suite.Require().NoError(err)
	assert.True(suite.T(), read.IsRead)
	assert.Equal(suite.T(), "ops-1", *read.ReadBy)

	acked, err := suite.env.alerts.Acknowledge(suite.context, alert.ID, "lead-1")
	suite.Require().NoError(err)
	assert.True(suite.T(), acked.IsAcknowledged)
	firstAck := *acked.AcknowledgedAt

	suite.env.clock.Advance(time.Minute)
	acked, err = suite.env.alerts.Acknowledge(suite.context, alert.ID, "lead-2")
	suite.Require().NoError(err)
	assert.Equal(suite.T(), "lead-1", *acked.AcknowledgedBy)
	assert.Equal(suite.T(), firstAck, *acked.AcknowledgedAt)

	dismissed, err := suite.env.alerts.Dismiss(suite.context, alert.ID, "lead-1")
	suite.Require().NoError(err)
	assert.True(suite.T(), dismissed.IsDismissed)

	stored, err := suite.env.alerts.GetAlert(suite.context, alert.ID)
	suite.Require().NoError(err)
	assert.True(suite.T(), stored.IsRead && stored.IsAcknowledged && stored.IsDismissed)

	_, err = suite.env.alerts.Acknowledge(suite.context, uuid.New(), "lead-1")
	assert.True(suite.T(), common.IsNotFound(err))
}

func (suite *AlertServiceTestSuite) TestAcknowledgeDismissedIsRejected() {
	alert, _, err := suite.env.alerts.Raise(suite.context, suite.lowStock(uuid.New()))
	suite.Require().NoError(err)
	_, err = suite.env.alerts.Dismiss(suite.context, alert.ID, "")
	suite.Require().NoError(err)

	_, err = suite.env.alerts.Acknowledge(suite.context, alert.ID, "")

	assert.True(suite.T(), common.IsValidation(err))
}

func (suite *AlertServiceTestSuite) TestActiveLowStockAlerts_ExcludesDismissed() {
	first, _, err := suite.env.alerts.Raise(suite.context, suite.lowStock(uuid.New()))
	suite.Require().NoError(err)
	_, _, err = suite.env.alerts.Raise(suite.context, suite.lowStock(uuid.New()))
	suite.Require().NoError(err)
	_, _, err = suite.env.alerts.Raise(suite.context, models.AlertCandidate{
		ProductID: uuid.New(), Type: models.AlertTypeSlowMoving, Severity: models.SeverityInfo,
	})
	suite.Require().NoError(err)

	active, err := suite.env.alerts.ActiveLowStockAlerts(suite.context)
	suite.Require().NoError(err)
	assert.Len(suite.T(), active, 2)

	_, err = suite.env.alerts.Dismiss(suite.context, first.ID, "")
	suite.Require().NoError(err)

	active, err = suite.env.alerts.ActiveLowStockAlerts(suite.context)
	suite.Require().NoError(err)
	assert.Len(suite.T(), active, 1)
}

func (suite *AlertServiceTestSuite) TestListAlerts_Filters() {
	productID := uuid.New()
	_, _, err := suite.env.alerts.Raise(suite.context, suite.lowStock(productID))
	suite.Require().NoError(err)
	_, _, err = suite.env.alerts.Raise(suite.context, models.AlertCandidate{
		ProductID: productID, Type: models.AlertTypeOverstock, Severity: models.SeverityLow,
	})
	suite.Require().NoError(err)

	high := models.SeverityHigh
	alerts, err := suite.env.alerts.ListAlerts(suite.context, models.AlertFilter{ProductID: &productID, MinSeverity: &high})
	suite.Require().NoError(err)
	suite.Require().Len(alerts, 1)
	assert.Equal(suite.T(), models.AlertTypeLowStock, alerts[0].Type)

	bogus := models.Severity("LOUD")
	_, err = suite.env.alerts.ListAlerts(suite.context, models.AlertFilter{MinSeverity: &bogus})
	assert.True(suite.T(), common.IsValidation(err))
}

func (suite *AlertServiceTestSuite) TestDispatch_RespectsGatesAndCaps() {
	productID := uuid.New()
	suite.env.store.PutProduct(&models.ProductInfo{ID: productID, Name: "Rye Flour", SKU: "RYE-1", UnitPrice: decimal.NewFromInt(4)})
	suite.saveConfig(&models.AlertConfiguration{
		OwnerID:     "store-9",
		Name:        "buyers",
		MinSeverity: models.SeverityHigh,
		Channels: []models.ChannelConfig{
			{Channel: models.NotificationTypeEmail, Enabled: true, Recipient: "buyers@example.com"},
			{Channel: models.NotificationTypeWebhook, Enabled: false, Recipient: "https://hooks.example.com"},
		},
		MaxPerHour: 1,
		IsActive:   true,
	})
	suite.env.dispatcher.On("Send", mock.Anything, mock.MatchedBy(func(msg models.NotificationMessage) bool {
		return msg.Channel == models.NotificationTypeEmail &&
			msg.Recipient == "buyers@example.com" &&
			msg.Variables["product_name"] == "Rye Flour" &&
			msg.Variables["quantity_on_hand"] == "4"
	})).Return(nil).Once()

	_, _, err := suite.env.alerts.Raise(suite.context, suite.lowStock(productID))
	suite.Require().NoError(err)
	suite.env.alerts.Wait()
	_, _, err = suite.env.alerts.Raise(suite.context, models.AlertCandidate{
		ProductID: productID, Type: models.AlertTypeSlowMoving, Severity: models.SeverityInfo,
	})
	suite.Require().NoError(err)
	_, _, err = suite.env.alerts.Raise(suite.context, models.AlertCandidate{
		ProductID: productID, Type: models.AlertTypeOutOfStock, Severity: models.SeverityUrgent,
	})
	suite.Require().NoError(err)
	suite.env.alerts.Wait()

	suite.env.dispatcher.AssertExpectations(suite.T())
	suite.env.dispatcher.AssertNumberOfCalls(suite.T(), "Send", 1)

	suite.env.clock.Advance(time.Hour)
	suite.env.dispatcher.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	_, _, err = suite.env.alerts.Raise(suite.context, models.AlertCandidate{
		ProductID: productID, Type: models.AlertTypeCriticalStock, Severity: models.SeverityCritical,
	})
	suite.Require().NoError(err)
	suite.env.alerts.Wait()
	suite.env.dispatcher.AssertNumberOfCalls(suite.T(), "Send", 2)
}

func (suite *AlertServiceTestSuite) emailConfig(name string, perHour, perDay int) *models.AlertConfiguration {
	return suite.saveConfig(&models.AlertConfiguration{
		OwnerID:    "store-9",
		Name:       name,
		Channels:   []models.ChannelConfig{{Channel: models.NotificationTypeEmail, Enabled: true, Recipient: "buyers@example.com"}},
		MaxPerHour: perHour,
		MaxPerDay:  perDay,
		IsActive:   true,
	})
}

func (suite *AlertServiceTestSuite) TestDispatch_HourlyCapHoldsUnderConcurrentRaises() {
	suite.emailConfig("capped", 1, 0)
	suite.env.dispatcher.On("Send", mock.Anything, mock.Anything).Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := suite.env.alerts.Raise(suite.context, suite.lowStock(uuid.New()))
			assert.NoError(suite.T(), err)
		}()
	}
	wg.Wait()
	suite.env.alerts.Wait()

	suite.env.dispatcher.AssertNumberOfCalls(suite.T(), "Send", 1)
}

func (suite *AlertServiceTestSuite) TestDispatch_DailyCapReturnsHourlySlot() {
	cfg := suite.emailConfig("daily", 5, 1)
	suite.env.dispatcher.On("Send", mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < 2; i++ {
		_, _, err := suite.env.alerts.Raise(suite.context, suite.lowStock(uuid.New()))
		suite.Require().NoError(err)
		suite.env.alerts.Wait()
	}

	suite.env.dispatcher.AssertNumberOfCalls(suite.T(), "Send", 1)
	hourKey := fmt.Sprintf("dispatch:%s:hour:%s", cfg.ID, suite.env.clock.Now().UTC().Format("2006010215"))
	count, err := suite.env.cache.IncrementCounter(suite.context, hourKey, time.Hour)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(2), count, "the refused send does not keep its hourly slot")
}

func (suite *AlertServiceTestSuite) TestDispatch_DoesNotBlockStockMutations() {
	productID := suite.env.stock(suite.T(), 100)
	suite.emailConfig("slow", 0, 0)
	release := make(chan struct{})
	suite.env.dispatcher.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) { <-release }).Return(nil)

	done := make(chan error, 1)
	go func() {
		_, err := suite.env.ledger.ApplyMovement(suite.context, models.MovementInput{
			ProductID: productID, Type: models.MovementSale, Quantity: 95,
		})
		done <- err
	}()

	select {
	case err := <-done:
		suite.Require().NoError(err)
	case <-time.After(2 * time.Second):
		close(release)
		suite.FailNow("sale waited on alert delivery")
	}
	close(release)
	suite.env.alerts.Wait()
	suite.env.dispatcher.AssertCalled(suite.T(), "Send", mock.Anything, mock.Anything)
}

func (suite *AlertServiceTestSuite) TestDispatch_ProductScopeAndFailures() {
	scoped := uuid.New()
	suite.saveConfig(&models.AlertConfiguration{
		OwnerID:    "store-9",
		Name:       "scoped",
		ProductIDs: []uuid.UUID{scoped},
		Channels:   []models.ChannelConfig{{Channel: models.NotificationTypeSMS, Enabled: true, Recipient: "+15550100"}},
		IsActive:   true,
	})
	suite.env.dispatcher.On("Send", mock.Anything, mock.Anything).Return(ErrUnsupportedChannel).Once()

	_, created, err := suite.env.alerts.Raise(suite.context, suite.lowStock(uuid.New()))
	suite.Require().NoError(err)
	assert.True(suite.T(), created)
	_, created, err = suite.env.alerts.Raise(suite.context, suite.lowStock(scoped))

	suite.Require().NoError(err, "dispatch failures are not returned")
	assert.True(suite.T(), created)
	suite.env.alerts.Wait()
	suite.env.dispatcher.AssertNumberOfCalls(suite.T(), "Send", 1)
}

func (suite *AlertServiceTestSuite) TestDispatch_CustomThresholds() {
	productID := suite.env.stock(suite.T(), 50)
	low, critical := 5, 2
	suite.saveConfig(&models.AlertConfiguration{
		OwnerID:                "store-9",
		Name:                   "tight",
		EnabledTypes:           []models.AlertType{models.AlertTypeLowStock},
		UseCustomThresholds:    true,
		LowStockThreshold:      &low,
		CriticalStockThreshold: &critical,
		Channels:               []models.ChannelConfig{{Channel: models.NotificationTypeEmail, Enabled: true, Recipient: "a@example.com"}},
		IsActive:               true,
	})

	_, err := suite.env.ledger.ApplyMovement(suite.context, models.MovementInput{
		ProductID: productID, Type: models.MovementSale, Quantity: 42,
	})
	suite.Require().NoError(err)
	suite.env.alerts.Wait()
	suite.env.dispatcher.AssertNotCalled(suite.T(), "Send", mock.Anything, mock.Anything)
	assert.Contains(suite.T(), suite.env.alertTypes(suite.T(), productID), models.AlertTypeLowStock)
}

func (suite *AlertServiceTestSuite) TestSubscribeReceivesNewAlerts() {
	var seen []models.AlertType
	suite.env.alerts.Subscribe(func(ctx context.Context, alert *models.StockAlert) {
		seen = append(seen, alert.Type)
	})
	productID := uuid.New()

	_, _, err := suite.env.alerts.Raise(suite.context, suite.lowStock(productID))
	suite.Require().NoError(err)
	_, _, err = suite.env.alerts.Raise(suite.context, suite.lowStock(productID))
	suite.Require().NoError(err)

	assert.Equal(suite.T(), []models.AlertType{models.AlertTypeLowStock}, seen)
}

func (suite *AlertServiceTestSuite) TestEvaluateVelocity() {
	productID := uuid.New()

	longAgo := suite.env.clock.Now().AddDate(0, 0, -45)

	created, err := suite.env.alerts.EvaluateVelocity(suite.context, models.Velocity{
		ProductID: productID, WindowDays: 30, QuantityOnHand: 40, DaysOfStockLeft: DaysOfStockLeft(40, 0),
		TrackedSince: longAgo,
	})
	suite.Require().NoError(err)
	suite.Require().Len(created, 1)
	assert.Equal(suite.T(), models.AlertTypeSlowMoving, created[0].Type)
	_, bounded := created[0].Metadata["days_of_stock_left"]
	assert.False(suite.T(), bounded)

	created, err = suite.env.alerts.EvaluateVelocity(suite.context, models.Velocity{
		ProductID: uuid.New(), WindowDays: 30, QuantityOnHand: 40, DaysOfStockLeft: DaysOfStockLeft(40, 0),
		TrackedSince: suite.env.clock.Now().Add(-time.Hour),
	})
	suite.Require().NoError(err)
	assert.Empty(suite.T(), created, "stocked inside the window")

	created, err = suite.env.alerts.EvaluateVelocity(suite.context, models.Velocity{
		ProductID: uuid.New(), WindowDays: 30, TotalSold: 600, AverageDailySales: 20, QuantityOnHand: 10,
		DaysOfStockLeft: 0.5,
	})
	suite.Require().NoError(err)
	suite.Require().Len(created, 1)
	assert.Equal(suite.T(), models.AlertTypeFastMoving, created[0].Type)

	created, err = suite.env.alerts.EvaluateVelocity(suite.context, models.Velocity{
		ProductID: uuid.New(), WindowDays: 30, TotalSold: 3, AverageDailySales: 0.1, QuantityOnHand: 1000,
		DaysOfStockLeft: 10000,
	})
	suite.Require().NoError(err)
	suite.Require().Len(created, 1)
	assert.Equal(suite.T(), models.AlertTypeOverstock, created[0].Type)
}

func (suite *AlertServiceTestSuite) TestSaveConfiguration_Normalizes() {
	saved := suite.saveConfig(&models.AlertConfiguration{
		OwnerID:              "store-9",
		Name:                 "defaults",
		RespectBusinessHours: true,
		BusinessHoursStart:   "08:00",
		BusinessHoursEnd:     "18:00",
		IsActive:             true,
	})

	assert.NotEqual(suite.T(), uuid.Nil, saved.ID)
	assert.Equal(suite.T(), models.AllAlertTypes, saved.EnabledTypes)
	assert.Equal(suite.T(), models.SeverityInfo, saved.MinSeverity)
	assert.Equal(suite.T(), "UTC", saved.Timezone)
	assert.Len(suite.T(), saved.BusinessDays, 5)

	stored, err := suite.env.alerts.GetConfiguration(suite.context, saved.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), "defaults", stored.Name)
}

func (suite *AlertServiceTestSuite) TestSaveConfiguration_Rejects() {
	five, ten := 5, 10
	tests := []struct {
		name       string
		cfg        models.AlertConfiguration
		validation bool
	}{
		{"missing owner", models.AlertConfiguration{Name: "x"}, true},
		{"missing name", models.AlertConfiguration{OwnerID: "o"}, true},
		{"unknown type", models.AlertConfiguration{OwnerID: "o", Name: "x", EnabledTypes: []models.AlertType{"WEATHER"}}, false},
		{"unknown severity", models.AlertConfiguration{OwnerID: "o", Name: "x", MinSeverity: "LOUD"}, false},
		{"missing custom thresholds", models.AlertConfiguration{OwnerID: "o", Name: "x", UseCustomThresholds: true}, false},
		{"critical above low", models.AlertConfiguration{OwnerID: "o", Name: "x", UseCustomThresholds: true,
			LowStockThreshold: &five, CriticalStockThreshold: &ten}, false},
		{"bad timezone", models.AlertConfiguration{OwnerID: "o", Name: "x", Timezone: "Mars/Olympus"}, false},
		{"bad hours", models.AlertConfiguration{OwnerID: "o", Name: "x", RespectBusinessHours: true,
			BusinessHoursStart: "25:00", BusinessHoursEnd: "18:00"}, false},
		{"negative cap", models.AlertConfiguration{OwnerID: "o", Name: "x", MaxPerDay: -1}, false},
		{"unknown channel", models.AlertConfiguration{OwnerID: "o", Name: "x",
			Channels: []models.ChannelConfig{{Channel: "pigeon", Enabled: true, Recipient: "roof"}}}, false},
		{"enabled channel without recipient", models.AlertConfiguration{OwnerID: "o", Name: "x",
			Channels: []models.ChannelConfig{{Channel: models.NotificationTypeEmail, Enabled: true}}}, false},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			cfg := tt.cfg
			_, err := suite.env.alerts.SaveConfiguration(suite.context, &cfg)
			suite.Require().Error(err)
			if tt.validation {
				assert.True(suite.T(), common.IsValidation(err), err.Error())
			} else {
				assert.True(suite.T(), common.IsConfiguration(err), err.Error())
			}
		})
	}
}

func TestStockCandidates(t *testing.T) {
	productID := uuid.New()
	record := func(qty int) *models.StockRecord {
		rec := models.NewStockRecord(productID, time.Now())
		rec.LowStockThreshold = 20
		rec.QuantityOnHand = qty
		return rec
	}
	types := func(candidates []models.AlertCandidate) []models.AlertType {
		var out []models.AlertType
		for _, c := range candidates {
			out = append(out, c.Type)
		}
		return out
	}

	assert.Empty(t, StockCandidates(record(21), nil))
	assert.Equal(t, []models.AlertType{models.AlertTypeLowStock, models.AlertTypeReorderNeeded}, types(StockCandidates(record(20), nil)))
	assert.Equal(t, []models.AlertType{models.AlertTypeCriticalStock, models.AlertTypeReorderNeeded}, types(StockCandidates(record(10), nil)))
	assert.Equal(t, []models.AlertType{models.AlertTypeOutOfStock}, types(StockCandidates(record(0), nil)))
	assert.Equal(t, []models.AlertType{models.AlertTypeNegativeStock}, types(StockCandidates(record(-2), nil)))

	untracked := record(0)
	untracked.TrackInventory = false
	assert.Empty(t, StockCandidates(untracked, nil))

	named := StockCandidates(record(0), &models.ProductInfo{ID: productID, Name: "Oat Milk", SKU: "OAT-1"})
	assert.Equal(t, "Oat Milk is out of stock", named[0].Message)
	assert.Equal(t, "OAT-1", named[0].Metadata["sku"])
	assert.Equal(t, models.SeverityUrgent, named[0].Severity)
}

func TestIsWithinWindow(t *testing.T) {
	weekdays := &models.AlertConfiguration{
		RespectBusinessHours: true,
		Timezone:             "America/New_York",
		BusinessDays:         []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		BusinessHoursStart:   "09:00",
		BusinessHoursEnd:     "17:00",
	}
	overnight := &models.AlertConfiguration{
		RespectBusinessHours: true,
		Timezone:             "UTC",
		BusinessHoursStart:   "22:00",
		BusinessHoursEnd:     "06:00",
	}
	allDay := &models.AlertConfiguration{
		RespectBusinessHours: true,
		Timezone:             "UTC",
		BusinessDays:         []time.Weekday{time.Saturday},
		BusinessHoursStart:   "00:00",
		BusinessHoursEnd:     "00:00",
	}

	tests := []struct {
		name   string
		now    time.Time
		cfg    *models.AlertConfiguration
		within bool
	}{
		{"weekday morning in local time", time.Date(2026, 10, 14, 14, 0, 0, 0, time.UTC), weekdays, true},
		{"weekday evening in local time", time.Date(2026, 10, 14, 22, 0, 0, 0, time.UTC), weekdays, false},
		{"end bound is exclusive", time.Date(2026, 10, 14, 21, 0, 0, 0, time.UTC), weekdays, false},
		{"saturday", time.Date(2026, 10, 17, 14, 0, 0, 0, time.UTC), weekdays, false},
		{"overnight late", time.Date(2026, 10, 14, 23, 30, 0, 0, time.UTC), overnight, true},
		{"overnight early", time.Date(2026, 10, 14, 5, 59, 0, 0, time.UTC), overnight, true},
		{"overnight midday", time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), overnight, false},
		{"equal bounds cover the day", time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC), allDay, true},
		{"not respected", time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC), &models.AlertConfiguration{}, true},
		{"unknown timezone", time.Date(2026, 10, 14, 14, 0, 0, 0, time.UTC),
			&models.AlertConfiguration{RespectBusinessHours: true, Timezone: "Mars/Olympus",
				BusinessHoursStart: "00:00", BusinessHoursEnd: "23:59"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.within, IsWithinWindow(tt.now, tt.cfg))
		})
	}
}
