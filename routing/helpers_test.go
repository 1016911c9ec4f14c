package routing

import (
	"context"
	"time"
)

func testCtx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = cancel
	return ctx
}
