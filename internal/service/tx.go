package service

import "context"

// TxRunner runs a function inside a database transaction. WithinTx joins an
// already-open transaction carried in the context; WithinNewTx always opens
// an independent one (used for the separately-committed check reservation
// sub-step). Implemented by postgres.TxManager.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	WithinNewTx(ctx context.Context, fn func(ctx context.Context) error) error
}
