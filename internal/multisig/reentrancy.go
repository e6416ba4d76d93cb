package multisig

import "context"

type callKey struct {
	walletID string
}

// withinCall marks ctx as belonging to an outward transfer of walletID.
func withinCall(ctx context.Context, walletID string) context.Context {
	return context.WithValue(ctx, callKey{walletID: walletID}, true)
}

// InCall reports whether ctx was handed out by walletID while it is
// performing an outward transfer. Calls into that wallet with such a context
// are rejected with ErrReentrantCall.
func InCall(ctx context.Context, walletID string) bool {
	marked, _ := ctx.Value(callKey{walletID: walletID}).(bool)
	return marked
}
