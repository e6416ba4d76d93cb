package identity

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Principal is an address that has signed in at least once.
type Principal struct {
	Address      common.Address
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    time.Time
}
