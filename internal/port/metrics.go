package port

import "time"

type Metrics interface {
	OrderCreated()
	OrderPublishFailed()
	OrderRepublished()

	EventProcessed()
	EventSkipped()
	EventRetried()
	EventCompensated()
	EventDeadLettered()
	ObserveProcessing(d time.Duration)

	StockRestored()
	StockRestoreSkipped()
	StockRestoreRetried()

	DLQMoved(target string)
	DLQFailed(target string)
}
