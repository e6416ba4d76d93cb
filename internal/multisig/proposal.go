package multisig

import (
	"bytes"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
)

// approvals tracks which owners currently approve a proposal. count always
// equals the number of true entries in byOwner.
type approvals struct {
	byOwner map[common.Address]bool
	count   int
}

func newApprovals() approvals {
	return approvals{byOwner: make(map[common.Address]bool)}
}

func (a approvals) has(owner common.Address) bool {
	return a.byOwner[owner]
}

// set marks owner as approving and reports whether anything changed.
func (a *approvals) set(owner common.Address) bool {
	if a.byOwner[owner] {
		return false
	}
	a.byOwner[owner] = true
	a.count++
	return true
}

// unset clears the owner's approval and reports whether anything changed.
func (a *approvals) unset(owner common.Address) bool {
	if !a.byOwner[owner] {
		return false
	}
	delete(a.byOwner, owner)
	a.count--
	return true
}

func (a approvals) clone() approvals {
	c := approvals{byOwner: make(map[common.Address]bool, len(a.byOwner)), count: a.count}
	for k, v := range a.byOwner {
		c.byOwner[k] = v
	}
	return c
}

// list returns the approving owners sorted by address bytes.
func (a approvals) list() []common.Address {
	out := make([]common.Address, 0, a.count)
	for owner, ok := range a.byOwner {
		if ok {
			out = append(out, owner)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Proposal is one requested outward payment. Values returned by Wallet
// queries are copies; mutating them does not affect the ledger.
type Proposal struct {
	ID          uint64
	Proposer    common.Address
	To          common.Address
	Amount      int64
	Description string
	Executed    bool
	CreatedAt   time.Time
	ExecutedAt  time.Time

	approvals approvals
}

// ApprovalCount returns the number of owners currently approving.
func (p Proposal) ApprovalCount() int {
	return p.approvals.count
}

// HasApproved reports whether owner currently approves the proposal.
func (p Proposal) HasApproved(owner common.Address) bool {
	return p.approvals.has(owner)
}

// Approvers returns the approving owners in a deterministic order.
func (p Proposal) Approvers() []common.Address {
	return p.approvals.list()
}

// Status reports whether the proposal is still pending or executed.
func (p Proposal) Status() Status {
	if p.Executed {
		return StatusExecuted
	}
	return StatusPending
}

func (p *Proposal) clone() Proposal {
	c := *p
	c.approvals = p.approvals.clone()
	return c
}
