// Package appctx carries the authenticated participant identity through
// request contexts.
package appctx

import (
	"context"

	"github.com/slateroom/slateroom/internal/identity"
)

type ctxKey string

const localKey ctxKey = "local"

func WithLocal(ctx context.Context, local identity.Local) context.Context {
	return context.WithValue(ctx, localKey, local)
}

func LocalFrom(ctx context.Context) (identity.Local, bool) {
	local, ok := ctx.Value(localKey).(identity.Local)
	return local, ok
}
