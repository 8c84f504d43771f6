// Package chain defines the narrow outbound interface to the external
// blockchain connector. The custody subsystem never talks to a node
// directly; it hands signed payloads to the connector and asks it for
// confirmation counts.
package chain

import (
	"context"
	"fmt"
)

// Connector is implemented by the external blockchain-connector component.
type Connector interface {
	// BroadcastSignedTransaction submits a fully signed raw transaction and
	// returns its transaction id.
	BroadcastSignedTransaction(ctx context.Context, rawTx []byte) (string, error)

	// GetConfirmations returns the current confirmation count for a
	// transaction id.
	GetConfirmations(ctx context.Context, txID string) (uint32, error)
}

// Unavailable is the default connector used when no connector endpoint is
// configured. Every call fails fast with a typed error; nothing in the
// custody subsystem is ever blocked waiting on chain I/O.
type Unavailable struct{}

// BroadcastSignedTransaction always fails.
func (Unavailable) BroadcastSignedTransaction(context.Context, []byte) (string, error) {
	return "", fmt.Errorf("blockchain connector is not configured")
}

// GetConfirmations always fails.
func (Unavailable) GetConfirmations(context.Context, string) (uint32, error) {
	return 0, fmt.Errorf("blockchain connector is not configured")
}
