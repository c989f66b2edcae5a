package app

import (
	"context"

	"github.com/rl1809/order-saga/internal/adapter/messaging"
	"github.com/rl1809/order-saga/internal/core/domain"
	"github.com/rl1809/order-saga/internal/core/service"
)

type orderCreatedConsumer interface {
	HandleOrderCreated(ctx context.Context, event domain.OrderCreatedEvent, attempt int) (service.Outcome, error)
}

type stockRestorer interface {
	HandleStockRestore(ctx context.Context, cmd domain.StockRestoreCommand) (bool, error)
}

func orderCreatedHandler(c orderCreatedConsumer) messaging.HandlerFunc {
	return func(ctx context.Context, msg messaging.Message) error {
		event, err := messaging.DecodeJSON[domain.OrderCreatedEvent](msg.Body)
		if err != nil {
			return err
		}
		_, err = c.HandleOrderCreated(ctx, event, msg.Attempt)
		return err
	}
}

func stockRestoreHandler(r stockRestorer) messaging.HandlerFunc {
	return func(ctx context.Context, msg messaging.Message) error {
		cmd, err := messaging.DecodeJSON[domain.StockRestoreCommand](msg.Body)
		if err != nil {
			return err
		}
		_, err = r.HandleStockRestore(ctx, cmd)
		return err
	}
}
