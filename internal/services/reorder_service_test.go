package services

import (
	"context"
	"math"
	"testing"
	"time"

	"stockledger/internal/common"
	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ReorderServiceTestSuite struct {
	suite.Suite
	env     *testEnv
	context context.Context
}

func (suite *ReorderServiceTestSuite) SetupTest() {
	suite.env = newTestEnv()
	suite.context = common.WithActor(context.Background(), "planner")
}

func TestReorderServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ReorderServiceTestSuite))
}

// sellingProduct has 20 units left after selling 80 in the current window.
func (suite *ReorderServiceTestSuite) sellingProduct(unitCost *decimal.Decimal) uuid.UUID {
	productID := suite.env.stock(suite.T(), 100)
	suite.env.store.PutProduct(&models.ProductInfo{
		ID: productID, Name: "Barley", SKU: "BAR-1", UnitPrice: decimal.NewFromInt(10), UnitCost: unitCost,
	})
	_, err := suite.env.ledger.ApplyMovement(suite.context, models.MovementInput{
		ProductID: productID, Type: models.MovementSale, Quantity: 80,
	})
	suite.Require().NoError(err)
	return productID
}

func (suite *ReorderServiceTestSuite) supplier(s models.Supplier) *models.Supplier {
	suite.Require().NoError(suite.env.suppliers.Create(suite.context, &s))
	return &s
}

func (suite *ReorderServiceTestSuite) TestComputeVelocity() {
	stockedAt := suite.env.clock.Now()
	productID := suite.sellingProduct(nil)

	v, err := suite.env.reorder.ComputeVelocity(suite.context, productID, 0)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 30, v.WindowDays)
	assert.Equal(suite.T(), 80, v.TotalSold)
	assert.InDelta(suite.T(), 80.0/30.0, v.AverageDailySales, 1e-9)
	assert.InDelta(suite.T(), 7.5, v.DaysOfStockLeft, 1e-9)
	assert.Equal(suite.T(), stockedAt, v.TrackedSince)

	suite.env.clock.Advance(31 * 24 * time.Hour)
	v, err = suite.env.reorder.ComputeVelocity(suite.context, productID, 0)
	suite.Require().NoError(err)
	assert.Zero(suite.T(), v.TotalSold)
	assert.True(suite.T(), v.Unbounded())

	_, err = suite.env.reorder.ComputeVelocity(suite.context, uuid.New(), 7)
	assert.True(suite.T(), common.IsNotFound(err))
}

func (suite *ReorderServiceTestSuite) TestSuggestReorder_Deterministic() {
	productID := suite.sellingProduct(nil)

	first, err := suite.env.reorder.SuggestReorder(suite.context, productID)
	suite.Require().NoError(err)
	suite.Require().NotNil(first)
	assert.Equal(suite.T(), 38, first.RecommendedQuantity)
	assert.Equal(suite.T(), models.PriorityMedium, first.Priority)
	assert.Equal(suite.T(), 20, first.CurrentQuantity)
	assert.Equal(suite.T(), 7, first.LeadTimeDays)
	assert.Nil(suite.T(), first.SupplierID)
	assert.True(suite.T(), first.UnitCost.Equal(decimal.NewFromInt(6)), first.UnitCost.String())
	assert.True(suite.T(), first.EstimatedCost.Equal(decimal.NewFromInt(228)), first.EstimatedCost.String())
	suite.Require().NotNil(first.DaysOfStockLeft)
	assert.InDelta(suite.T(), 7.5, *first.DaysOfStockLeft, 1e-9)

	second, err := suite.env.reorder.SuggestReorder(suite.context, productID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), first.ID, second.ID, "active suggestion is updated in place")
	assert.Equal(suite.T(), first.RecommendedQuantity, second.RecommendedQuantity)
	assert.Equal(suite.T(), first.Priority, second.Priority)
	assert.True(suite.T(), first.EstimatedCost.Equal(second.EstimatedCost))

	active, err := suite.env.reorder.ListSuggestions(suite.context, "", 0, 0)
	suite.Require().NoError(err)
	assert.Len(suite.T(), active, 1)
}

func (suite *ReorderServiceTestSuite) TestSuggestReorder_NotNeeded() {
	productID := suite.env.stock(suite.T(), 100)

	suggestion, err := suite.env.reorder.SuggestReorder(suite.context, productID)

	suite.Require().NoError(err)
	assert.Nil(suite.T(), suggestion)
}

func (suite *ReorderServiceTestSuite) TestSuggestReorder_AtReorderPoint() {
	productID := suite.env.stock(suite.T(), 100)
	point := 100
	_, err := suite.env.ledger.UpdateSettings(suite.context, productID, models.StockSettings{ReorderPoint: &point})
	suite.Require().NoError(err)

	suggestion, err := suite.env.reorder.SuggestReorder(suite.context, productID)

	suite.Require().NoError(err)
	suite.Require().NotNil(suggestion)
	assert.Equal(suite.T(), 200, suggestion.RecommendedQuantity)
	assert.Equal(suite.T(), models.PriorityLow, suggestion.Priority)
	assert.Nil(suite.T(), suggestion.DaysOfStockLeft)
	assert.Contains(suite.T(), suggestion.Reason, "reorder point")
	assert.True(suite.T(), suggestion.UnitCost.IsZero(), "unknown product is costed at zero")
}

func (suite *ReorderServiceTestSuite) TestSuggestReorder_UntrackedSkipped() {
	productID := suite.env.stock(suite.T(), 1)
	track := false
	_, err := suite.env.ledger.UpdateSettings(suite.context, productID, models.StockSettings{TrackInventory: &track})
	suite.Require().NoError(err)

	suggestion, err := suite.env.reorder.SuggestReorder(suite.context, productID)

	suite.Require().NoError(err)
	assert.Nil(suite.T(), suggestion)
}

func (suite *ReorderServiceTestSuite) TestSuggestReorder_PreferredLocalSupplier() {
	cost := decimal.NewFromInt(10)
	productID := suite.sellingProduct(&cost)
	email := "orders@valley.example.com"
	suite.supplier(models.Supplier{Name: "Far Away Co", ContactEmail: &email, LeadTimeDays: 1, IsPreferred: true, IsActive: true})
	suite.supplier(models.Supplier{Name: "Slow Local", ContactEmail: &email, LeadTimeDays: 9, IsLocal: true, IsPreferred: true, IsActive: true})
	valley := suite.supplier(models.Supplier{
		Name: "Valley Mills", ContactEmail: &email, LeadTimeDays: 3, IsLocal: true, IsPreferred: true, IsActive: true,
		DiscountRate: decimal.RequireFromString("0.1"), MinimumOrderQuantity: 50,
	})

	suggestion, err := suite.env.reorder.SuggestReorder(suite.context, productID)

	suite.Require().NoError(err)
	suite.Require().NotNil(suggestion)
	suite.Require().NotNil(suggestion.SupplierID)
	assert.Equal(suite.T(), valley.ID, *suggestion.SupplierID)
	assert.Equal(suite.T(), 3, suggestion.LeadTimeDays)
	assert.Equal(suite.T(), 50, suggestion.RecommendedQuantity)
	assert.True(suite.T(), suggestion.UnitCost.Equal(decimal.NewFromInt(9)), suggestion.UnitCost.String())
	assert.True(suite.T(), suggestion.EstimatedCost.Equal(decimal.NewFromInt(450)), suggestion.EstimatedCost.String())
}

func (suite *ReorderServiceTestSuite) TestRequestLifecycle_SingleRestock() {
	productID := suite.sellingProduct(nil)
	suggestion, err := suite.env.reorder.SuggestReorder(suite.context, productID)
	suite.Require().NoError(err)

	req, err := suite.env.reorder.CreateRequest(suite.context, models.CreateRequestInput{SuggestionID: &suggestion.ID})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RequestPendingApproval, req.Status)
	assert.Equal(suite.T(), productID, req.ProductID)
	assert.Equal(suite.T(), 38, req.Quantity)
	assert.True(suite.T(), req.TotalCost.Equal(decimal.NewFromInt(228)))
	assert.Equal(suite.T(), "planner", req.RequestedBy)

	converted, err := suite.env.reorder.GetSuggestion(suite.context, suggestion.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.SuggestionConverted, converted.Status)

	req, err = suite.env.reorder.Transition(suite.context, req.ID, models.ActionApprove, "manager", common.StringPtr("ok"))
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RequestApproved, req.Status)

	req, err = suite.env.reorder.Transition(suite.context, req.ID, models.ActionComplete, "receiving", nil)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RequestCompleted, req.Status)
	suite.Require().NotNil(req.MovementID)

	restocks, err := suite.env.ledger.ListMovements(suite.context, productID, models.MovementFilter{
		Types: []models.MovementType{models.MovementRestock},
	})
	suite.Require().NoError(err)
	suite.Require().Len(restocks, 1)
	assert.Equal(suite.T(), 38, restocks[0].QuantityDelta)
	assert.Equal(suite.T(), *req.MovementID, restocks[0].ID)
	assert.Equal(suite.T(), "reorder_request", *restocks[0].ReferenceType)
	assert.Equal(suite.T(), "receiving", restocks[0].CreatedBy)

	rec, err := suite.env.ledger.GetStock(suite.context, productID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 58, rec.QuantityOnHand)

	_, err = suite.env.reorder.Transition(suite.context, req.ID, models.ActionComplete, "receiving", nil)
	assert.True(suite.T(), common.IsValidation(err))
	_, err = suite.env.reorder.Transition(suite.context, req.ID, models.ActionCancel, "receiving", nil)
	assert.True(suite.T(), common.IsValidation(err))

	restocks, err = suite.env.ledger.ListMovements(suite.context, productID, models.MovementFilter{
		Types: []models.MovementType{models.MovementRestock},
	})
	suite.Require().NoError(err)
	assert.Len(suite.T(), restocks, 1)

	stored, err := suite.env.reorder.GetRequest(suite.context, req.ID)
	suite.Require().NoError(err)
	suite.Require().Len(stored.History, 3)
	assert.Equal(suite.T(), models.RequestPendingApproval, stored.History[0].ToStatus)
	assert.Equal(suite.T(), "manager", stored.History[1].Actor)
	assert.Equal(suite.T(), models.RequestCompleted, stored.History[2].ToStatus)

	completed, err := suite.env.reorder.ListRequests(suite.context, models.RequestCompleted, 0, 0)
	suite.Require().NoError(err)
	assert.Len(suite.T(), completed, 1)

	_, err = suite.env.reorder.CreateRequest(suite.context, models.CreateRequestInput{SuggestionID: &suggestion.ID})
	assert.True(suite.T(), common.IsValidation(err), "converted suggestion cannot be reused")
}

func (suite *ReorderServiceTestSuite) completeRequest(productID uuid.UUID, unitCost decimal.Decimal) {
	req, err := suite.env.reorder.CreateRequest(suite.context, models.CreateRequestInput{
		ProductID: productID, Quantity: 10, UnitCost: unitCost,
	})
	suite.Require().NoError(err)
	_, err = suite.env.reorder.Transition(suite.context, req.ID, models.ActionApprove, "manager", nil)
	suite.Require().NoError(err)
	_, err = suite.env.reorder.Transition(suite.context, req.ID, models.ActionComplete, "receiving", nil)
	suite.Require().NoError(err)
}

func (suite *ReorderServiceTestSuite) TestComplete_UnknownCostKeepsAverageCost() {
	productID := uuid.New()
	cost := decimal.NewFromInt(4)
	_, err := suite.env.ledger.ApplyMovement(suite.context, models.MovementInput{
		ProductID: productID, Type: models.MovementInitialStock, Quantity: 10, UnitCost: &cost,
	})
	suite.Require().NoError(err)

	suite.completeRequest(productID, decimal.Zero)
	rec, err := suite.env.ledger.GetStock(suite.context, productID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 20, rec.QuantityOnHand)
	assert.True(suite.T(), rec.AverageCost.Equal(decimal.NewFromInt(4)), rec.AverageCost.String())

	suite.completeRequest(productID, decimal.NewFromInt(7))
	rec, err = suite.env.ledger.GetStock(suite.context, productID)
	suite.Require().NoError(err)
	assert.True(suite.T(), rec.AverageCost.Equal(decimal.NewFromInt(5)), rec.AverageCost.String())
}

func (suite *ReorderServiceTestSuite) TestTransition_InvalidMoves() {
	productID := suite.env.stock(suite.T(), 5)
	req, err := suite.env.reorder.CreateRequest(suite.context, models.CreateRequestInput{
		ProductID: productID, Quantity: 5, UnitCost: decimal.NewFromInt(2),
	})
	suite.Require().NoError(err)

	_, err = suite.env.reorder.Transition(suite.context, req.ID, models.ActionComplete, "", nil)
	assert.True(suite.T(), common.IsValidation(err), "complete requires approval")

	req, err = suite.env.reorder.Transition(suite.context, req.ID, models.ActionReject, "", nil)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RequestRejected, req.Status)

	_, err = suite.env.reorder.Transition(suite.context, req.ID, models.ActionApprove, "", nil)
	assert.True(suite.T(), common.IsValidation(err))
	_, err = suite.env.reorder.Transition(suite.context, req.ID, "expedite", "", nil)
	assert.True(suite.T(), common.IsValidation(err))
	_, err = suite.env.reorder.Transition(suite.context, uuid.New(), models.ActionApprove, "", nil)
	assert.True(suite.T(), common.IsNotFound(err))

	other, err := suite.env.reorder.CreateRequest(suite.context, models.CreateRequestInput{
		ProductID: productID, Quantity: 1,
	})
	suite.Require().NoError(err)
	other, err = suite.env.reorder.Transition(suite.context, other.ID, models.ActionCancel, "", nil)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RequestCancelled, other.Status)
}

func (suite *ReorderServiceTestSuite) TestCreateRequest_Validation() {
	productID := suite.env.stock(suite.T(), 5)
	email := "x@example.com"
	inactive := suite.supplier(models.Supplier{Name: "Closed Co", ContactEmail: &email, IsActive: false})
	unreachable := suite.supplier(models.Supplier{Name: "Silent Co", IsActive: true})
	missing := uuid.New()

	tests := []struct {
		name  string
		in    models.CreateRequestInput
		check func(error) bool
	}{
		{"no product", models.CreateRequestInput{Quantity: 1}, common.IsValidation},
		{"zero quantity", models.CreateRequestInput{ProductID: productID}, common.IsValidation},
		{"negative cost", models.CreateRequestInput{ProductID: productID, Quantity: 1, UnitCost: decimal.NewFromInt(-1)}, common.IsValidation},
		{"inactive supplier", models.CreateRequestInput{ProductID: productID, Quantity: 1, SupplierID: &inactive.ID}, common.IsValidation},
		{"supplier without contact", models.CreateRequestInput{ProductID: productID, Quantity: 1, SupplierID: &unreachable.ID}, common.IsValidation},
		{"unknown supplier", models.CreateRequestInput{ProductID: productID, Quantity: 1, SupplierID: &missing}, common.IsNotFound},
		{"unknown suggestion", models.CreateRequestInput{SuggestionID: &missing}, common.IsNotFound},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.env.reorder.CreateRequest(suite.context, tt.in)
			suite.Require().Error(err)
			assert.True(suite.T(), tt.check(err), err.Error())
		})
	}

	pending, err := suite.env.reorder.ListRequests(suite.context, models.RequestPendingApproval, 0, 0)
	suite.Require().NoError(err)
	assert.Empty(suite.T(), pending)
}

func (suite *ReorderServiceTestSuite) TestDismissSuggestion() {
	productID := suite.sellingProduct(nil)
	suggestion, err := suite.env.reorder.SuggestReorder(suite.context, productID)
	suite.Require().NoError(err)

	dismissed, err := suite.env.reorder.DismissSuggestion(suite.context, suggestion.ID, "")
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.SuggestionDismissed, dismissed.Status)

	_, err = suite.env.reorder.DismissSuggestion(suite.context, suggestion.ID, "")
	assert.True(suite.T(), common.IsValidation(err))

	fresh, err := suite.env.reorder.SuggestReorder(suite.context, productID)
	suite.Require().NoError(err)
	assert.NotEqual(suite.T(), suggestion.ID, fresh.ID, "dismissed suggestions are not revived")
}

func (suite *ReorderServiceTestSuite) TestHandleAlert_SuggestsFromReorderNeeded() {
	suite.env.alerts.Subscribe(suite.env.reorder.HandleAlert)
	productID := suite.env.stock(suite.T(), 30)

	_, err := suite.env.ledger.ApplyMovement(suite.context, models.MovementInput{
		ProductID: productID, Type: models.MovementSale, Quantity: 22,
	})
	suite.Require().NoError(err)

	active, err := suite.env.reorder.ListSuggestions(suite.context, models.SuggestionActive, 0, 0)
	suite.Require().NoError(err)
	suite.Require().Len(active, 1)
	assert.Equal(suite.T(), productID, active[0].ProductID)
	assert.Equal(suite.T(), 8, active[0].CurrentQuantity)

	suite.env.reorder.HandleAlert(suite.context, &models.StockAlert{ID: uuid.New(), ProductID: uuid.New(), Type: models.AlertTypeSlowMoving})
	active, err = suite.env.reorder.ListSuggestions(suite.context, models.SuggestionActive, 0, 0)
	suite.Require().NoError(err)
	assert.Len(suite.T(), active, 1)
}

func (suite *ReorderServiceTestSuite) TestScanAndSuggest() {
	idle := suite.env.stock(suite.T(), 500)
	suite.env.clock.Advance(31 * 24 * time.Hour)
	busy := suite.sellingProduct(nil)
	fresh := suite.env.stock(suite.T(), 500)

	count, err := suite.env.reorder.ScanAndSuggest(suite.context)

	suite.Require().NoError(err)
	assert.Equal(suite.T(), 1, count)
	assert.Contains(suite.T(), suite.env.alertTypes(suite.T(), idle), models.AlertTypeSlowMoving)
	assert.NotContains(suite.T(), suite.env.alertTypes(suite.T(), busy), models.AlertTypeSlowMoving)
	assert.NotContains(suite.T(), suite.env.alertTypes(suite.T(), fresh), models.AlertTypeSlowMoving)

	cancelled, cancel := context.WithCancel(suite.context)
	cancel()
	_, err = suite.env.reorder.ScanAndSuggest(cancelled)
	assert.ErrorIs(suite.T(), err, context.Canceled)
}

func TestDaysOfStockLeft(t *testing.T) {
	assert.Zero(t, DaysOfStockLeft(0, 4))
	assert.Zero(t, DaysOfStockLeft(-3, 4))
	assert.True(t, math.IsInf(DaysOfStockLeft(10, 0), 1))
	assert.InDelta(t, 2.5, DaysOfStockLeft(10, 4), 1e-9)
}

func TestRecommendedQuantity(t *testing.T) {
	assert.Equal(t, 38, RecommendedQuantity(80.0/30.0, 7, 7, 10, 1))
	assert.Equal(t, 20, RecommendedQuantity(0.5, 7, 7, 10, 1), "twice the reorder point")
	assert.Equal(t, 50, RecommendedQuantity(0.5, 7, 7, 10, 50), "minimum order quantity")
	assert.Equal(t, 1, RecommendedQuantity(0, 7, 7, 0, 1))
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		qty      int
		days     float64
		priority models.ReorderPriority
	}{
		{0, 0, models.PriorityUrgent},
		{5, 2, models.PriorityCritical},
		{5, 3, models.PriorityCritical},
		{5, 6.5, models.PriorityHigh},
		{5, 14, models.PriorityMedium},
		{5, 30, models.PriorityLow},
		{5, math.Inf(1), models.PriorityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.priority, PriorityFor(tt.qty, tt.days), "qty=%d days=%v", tt.qty, tt.days)
	}
}
