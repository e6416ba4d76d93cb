package multisig

import "context"

// StoredEvents is a test helper returning the audit trail journaled by a
// store for a wallet, or nil if the store cannot replay events.
func StoredEvents(s Store, walletID string) []Event {
	r, ok := s.(EventReader)
	if !ok {
		return nil
	}
	events, err := r.Events(context.Background(), walletID)
	if err != nil {
		return nil
	}
	return events
}
