// Package settle mutates balances, holdings, orders, and the trade ledger
// to realize market orders, limit-order creation, pairwise fills, and
// cancellations, extracting a commission on each settlement.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Every operation checks its preconditions before mutating anything and
// runs its mutation sequence inside one store transaction, in a fixed
// order: debit or reservation first, credit second, ledger append and
// order-status transition last.
package settle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradesim/exchange-engine/internal/metrics"
	"github.com/tradesim/exchange-engine/internal/model"
	"github.com/tradesim/exchange-engine/internal/pricecache"
	"github.com/tradesim/exchange-engine/internal/store"
)

// Service executes settlement operations against the relational store,
// using the price cache for market-order pricing.
type Service struct {
	store  store.Store
	cache  pricecache.Cache
	rates  Rates
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a settlement service.
func NewService(st store.Store, cache pricecache.Cache, rates Rates, logger *zap.Logger) *Service {
	return &Service{
		store:  st,
		cache:  cache,
		rates:  rates,
		logger: logger,
		now:    time.Now,
	}
}

// Receipt summarizes what the initiating user received from a market
// operation: Amount is the net credited (asset units for a buy, cash for a
// sell) after Commission was withheld at Price.
type Receipt struct {
	AssetID    int64           `json:"asset_id"`
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
	Commission decimal.Decimal `json:"commission"`
}

// MarketBuy purchases amount units at the current cache price. The full
// cost is debited from the user's balance; commission is taken from the
// asset units received.
func (s *Service) MarketBuy(ctx context.Context, userID, assetID int64, amount decimal.Decimal) (*Receipt, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}

	price, err := s.currentPrice(ctx, assetID)
	if err != nil {
		return nil, err
	}
	cost := price.Mul(amount).Round(model.DecimalScale)
	taken := TakeCommission(amount, s.rates.MarketBuy)

	err = s.store.InTx(ctx, func(tx store.Store) error {
		user, err := tx.GetUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if user.Balance.LessThan(cost) {
			return ErrInsufficientFunds
		}

		held := decimal.Zero
		if holding, err := tx.GetHolding(ctx, userID, assetID); err == nil {
			held = holding.Amount
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := tx.UpdateUserBalance(ctx, userID, user.Balance.Sub(cost).Round(model.DecimalScale)); err != nil {
			return err
		}
		if err := tx.SetHoldingAmount(ctx, userID, assetID, held.Add(taken.Net).Round(model.DecimalScale)); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, s.newTrade(userID, assetID, model.SideBuy, price, taken.Net))
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("market_buy", "error").Inc()
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues("market_buy", "ok").Inc()
	s.logger.Info("market buy settled",
		zap.Int64("user", userID),
		zap.Int64("asset", assetID),
		zap.String("price", price.String()),
		zap.String("net_amount", taken.Net.String()),
		zap.String("commission", taken.Commission.String()),
	)
	return &Receipt{AssetID: assetID, Price: price, Amount: taken.Net, Commission: taken.Commission}, nil
}

// MarketSell sells amount units at the current cache price. The holding is
// debited by the full amount; commission is taken from the cash proceeds.
func (s *Service) MarketSell(ctx context.Context, userID, assetID int64, amount decimal.Decimal) (*Receipt, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}

	price, err := s.currentPrice(ctx, assetID)
	if err != nil {
		return nil, err
	}
	proceeds := price.Mul(amount).Round(model.DecimalScale)
	taken := TakeCommission(proceeds, s.rates.MarketSell)

	err = s.store.InTx(ctx, func(tx store.Store) error {
		holding, err := tx.GetHolding(ctx, userID, assetID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoHolding
		}
		if err != nil {
			return err
		}
		if holding.Amount.LessThan(amount) {
			return ErrInsufficientHoldings
		}

		user, err := tx.GetUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		if err := tx.SetHoldingAmount(ctx, userID, assetID, holding.Amount.Sub(amount).Round(model.DecimalScale)); err != nil {
			return err
		}
		if err := tx.UpdateUserBalance(ctx, userID, user.Balance.Add(taken.Net).Round(model.DecimalScale)); err != nil {
			return err
		}
		return tx.InsertTrade(ctx, s.newTrade(userID, assetID, model.SideSell, price, amount))
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("market_sell", "error").Inc()
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues("market_sell", "ok").Inc()
	s.logger.Info("market sell settled",
		zap.Int64("user", userID),
		zap.Int64("asset", assetID),
		zap.String("price", price.String()),
		zap.String("net_proceeds", taken.Net.String()),
		zap.String("commission", taken.Commission.String()),
	)
	return &Receipt{AssetID: assetID, Price: price, Amount: taken.Net, Commission: taken.Commission}, nil
}

// CreateOrder places a limit order, reserving the full price (buy) or the
// full amount (sell) at creation. Commission is deferred to fill time.
func (s *Service) CreateOrder(ctx context.Context, userID, assetID int64, side string, price, amount decimal.Decimal) (*model.Order, error) {
	if side != model.SideBuy && side != model.SideSell {
		return nil, fmt.Errorf("%w: side must be buy or sell", ErrInvalidArgument)
	}
	if !price.IsPositive() || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: price and amount must be positive", ErrInvalidArgument)
	}

	now := s.now().UTC()
	order := &model.Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		AssetID:   assetID,
		Type:      side,
		Price:     price.Round(model.DecimalScale),
		Amount:    amount.Round(model.DecimalScale),
		Status:    model.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.InTx(ctx, func(tx store.Store) error {
		if side == model.SideBuy {
			user, err := tx.GetUser(ctx, userID)
			if errors.Is(err, store.ErrNotFound) {
				return ErrUserNotFound
			}
			if err != nil {
				return err
			}
			if user.Balance.LessThan(order.Price) {
				return ErrInsufficientFunds
			}
			if err := tx.UpdateUserBalance(ctx, userID, user.Balance.Sub(order.Price).Round(model.DecimalScale)); err != nil {
				return err
			}
		} else {
			// A missing holding row reserves like a zero holding.
			held := decimal.Zero
			if holding, err := tx.GetHolding(ctx, userID, assetID); err == nil {
				held = holding.Amount
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if held.LessThan(order.Amount) {
				return ErrInsufficientHoldings
			}
			if err := tx.SetHoldingAmount(ctx, userID, assetID, held.Sub(order.Amount).Round(model.DecimalScale)); err != nil {
				return err
			}
		}
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("order_create", "error").Inc()
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues("order_create", "ok").Inc()
	s.logger.Info("order created",
		zap.String("order", order.ID),
		zap.Int64("user", userID),
		zap.Int64("asset", assetID),
		zap.String("side", side),
		zap.String("price", order.Price.String()),
		zap.String("amount", order.Amount.String()),
	)
	return order, nil
}

// FillOrder settles a pending order against a counter-party. The filler
// must not own the order. Commission is withheld only from the resting
// order owner's receive leg; the filler's leg is credited gross.
func (s *Service) FillOrder(ctx context.Context, fillerID int64, orderID string) (*model.Order, error) {
	var filled *model.Order

	err := s.store.InTx(ctx, func(tx store.Store) error {
		order, err := tx.GetOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if order.UserID == fillerID || order.Status != model.OrderPending {
			return ErrInvalidState
		}

		switch order.Type {
		case model.SideBuy:
			err = s.fillBuyOrder(ctx, tx, fillerID, order)
		case model.SideSell:
			err = s.fillSellOrder(ctx, tx, fillerID, order)
		default:
			err = fmt.Errorf("%w: unexpected order type %q", ErrInvalidState, order.Type)
		}
		if err != nil {
			return err
		}

		order.Status = model.OrderDone
		order.UpdatedAt = s.now().UTC()
		filled = order
		return tx.UpdateOrderStatus(ctx, order.ID, model.OrderDone, order.UpdatedAt)
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("order_fill", "error").Inc()
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues("order_fill", "ok").Inc()
	s.logger.Info("order filled",
		zap.String("order", filled.ID),
		zap.Int64("filler", fillerID),
		zap.Int64("owner", filled.UserID),
		zap.String("side", filled.Type),
	)
	return filled, nil
}

// fillBuyOrder: the filler delivers order.Amount units of the asset and
// receives the reserved order.Price in cash; the order owner receives the
// asset units net of commission.
func (s *Service) fillBuyOrder(ctx context.Context, tx store.Store, fillerID int64, order *model.Order) error {
	fillerHolding, err := tx.GetHolding(ctx, fillerID, order.AssetID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoHolding
	}
	if err != nil {
		return err
	}
	if fillerHolding.Amount.LessThan(order.Amount) {
		return ErrInsufficientHoldings
	}

	filler, err := tx.GetUser(ctx, fillerID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	ownerHeld := decimal.Zero
	if ownerHolding, err := tx.GetHolding(ctx, order.UserID, order.AssetID); err == nil {
		ownerHeld = ownerHolding.Amount
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	taken := TakeCommission(order.Amount, s.rates.OrderBuy)

	if err := tx.SetHoldingAmount(ctx, fillerID, order.AssetID, fillerHolding.Amount.Sub(order.Amount).Round(model.DecimalScale)); err != nil {
		return err
	}
	if err := tx.UpdateUserBalance(ctx, fillerID, filler.Balance.Add(order.Price).Round(model.DecimalScale)); err != nil {
		return err
	}
	if err := tx.SetHoldingAmount(ctx, order.UserID, order.AssetID, ownerHeld.Add(taken.Net).Round(model.DecimalScale)); err != nil {
		return err
	}

	if err := tx.InsertTrade(ctx, s.newTrade(fillerID, order.AssetID, model.SideSell, order.Price, order.Amount)); err != nil {
		return err
	}
	return tx.InsertTrade(ctx, s.newTrade(order.UserID, order.AssetID, model.SideBuy, order.Price, taken.Net))
}

// fillSellOrder: the filler pays order.Price in cash and receives the
// reserved order.Amount units; the order owner receives the cash net of
// commission.
func (s *Service) fillSellOrder(ctx context.Context, tx store.Store, fillerID int64, order *model.Order) error {
	filler, err := tx.GetUser(ctx, fillerID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if filler.Balance.LessThan(order.Price) {
		return ErrInsufficientFunds
	}

	owner, err := tx.GetUser(ctx, order.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	fillerHeld := decimal.Zero
	if fillerHolding, err := tx.GetHolding(ctx, fillerID, order.AssetID); err == nil {
		fillerHeld = fillerHolding.Amount
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	taken := TakeCommission(order.Price, s.rates.OrderSell)

	if err := tx.UpdateUserBalance(ctx, fillerID, filler.Balance.Sub(order.Price).Round(model.DecimalScale)); err != nil {
		return err
	}
	if err := tx.UpdateUserBalance(ctx, order.UserID, owner.Balance.Add(taken.Net).Round(model.DecimalScale)); err != nil {
		return err
	}
	if err := tx.SetHoldingAmount(ctx, fillerID, order.AssetID, fillerHeld.Add(order.Amount).Round(model.DecimalScale)); err != nil {
		return err
	}

	if err := tx.InsertTrade(ctx, s.newTrade(fillerID, order.AssetID, model.SideBuy, order.Price, order.Amount)); err != nil {
		return err
	}
	return tx.InsertTrade(ctx, s.newTrade(order.UserID, order.AssetID, model.SideSell, order.Price, order.Amount))
}

// CancelOrder returns a pending order's reservation to its owner and
// transitions it to cancel. Only the owning user may cancel, and no
// commission applies.
func (s *Service) CancelOrder(ctx context.Context, userID int64, orderID string) (*model.Order, error) {
	var cancelled *model.Order

	err := s.store.InTx(ctx, func(tx store.Store) error {
		order, err := tx.GetOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if order.UserID != userID {
			// Do not reveal foreign orders.
			return ErrOrderNotFound
		}
		if order.Status != model.OrderPending {
			return ErrInvalidState
		}

		if order.Type == model.SideBuy {
			user, err := tx.GetUser(ctx, userID)
			if errors.Is(err, store.ErrNotFound) {
				return ErrUserNotFound
			}
			if err != nil {
				return err
			}
			if err := tx.UpdateUserBalance(ctx, userID, user.Balance.Add(order.Price).Round(model.DecimalScale)); err != nil {
				return err
			}
		} else {
			held := decimal.Zero
			if holding, err := tx.GetHolding(ctx, userID, order.AssetID); err == nil {
				held = holding.Amount
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err := tx.SetHoldingAmount(ctx, userID, order.AssetID, held.Add(order.Amount).Round(model.DecimalScale)); err != nil {
				return err
			}
		}

		order.Status = model.OrderCancel
		order.UpdatedAt = s.now().UTC()
		cancelled = order
		return tx.UpdateOrderStatus(ctx, order.ID, model.OrderCancel, order.UpdatedAt)
	})
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("order_cancel", "error").Inc()
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues("order_cancel", "ok").Inc()
	s.logger.Info("order cancelled",
		zap.String("order", cancelled.ID),
		zap.Int64("user", userID),
		zap.String("side", cancelled.Type),
	)
	return cancelled, nil
}

func (s *Service) currentPrice(ctx context.Context, assetID int64) (decimal.Decimal, error) {
	rec, err := s.cache.Current(ctx, assetID)
	if errors.Is(err, pricecache.ErrNoPrice) {
		return decimal.Zero, ErrPriceUnavailable
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read price asset=%d: %w", assetID, err)
	}
	return rec.Price, nil
}

func (s *Service) newTrade(userID, assetID int64, side string, price, amount decimal.Decimal) *model.Trade {
	return &model.Trade{
		ID:        uuid.New().String(),
		UserID:    userID,
		AssetID:   assetID,
		Type:      side,
		Price:     price,
		Amount:    amount,
		CreatedAt: s.now().UTC(),
	}
}
