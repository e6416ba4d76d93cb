package wallet

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Summary is the public view of a multisig wallet.
type Summary struct {
	ID            string
	Owners        []common.Address
	Threshold     int
	ProposalCount int
	CreatedAt     time.Time
}
