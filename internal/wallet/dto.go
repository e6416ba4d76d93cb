package wallet

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/quorum/internal/multisig"
)

type createRequest struct {
	Owners    []string `json:"owners"`
	Threshold int      `json:"threshold"`
}

type walletResponse struct {
	ID            string    `json:"id"`
	Owners        []string  `json:"owners"`
	Threshold     int       `json:"threshold"`
	ProposalCount int       `json:"proposal_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type proposeRequest struct {
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type proposalResponse struct {
	ID          uint64     `json:"id"`
	Proposer    string     `json:"proposer"`
	To          string     `json:"to"`
	Amount      int64      `json:"amount"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Executed    bool       `json:"executed"`
	Approvals   int        `json:"approvals"`
	Approvers   []string   `json:"approvers"`
	CreatedAt   time.Time  `json:"created_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
}

type proposalPage struct {
	Items  []proposalResponse `json:"items"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
	Total  int                `json:"total"`
}

type eventResponse struct {
	Kind        string    `json:"kind"`
	ProposalID  uint64    `json:"proposal_id"`
	Actor       string    `json:"actor"`
	To          string    `json:"to,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	Description string    `json:"description,omitempty"`
	At          time.Time `json:"at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toWalletResponse(s Summary) walletResponse {
	owners := make([]string, 0, len(s.Owners))
	for _, o := range s.Owners {
		owners = append(owners, o.Hex())
	}
	return walletResponse{
		ID:            s.ID,
		Owners:        owners,
		Threshold:     s.Threshold,
		ProposalCount: s.ProposalCount,
		CreatedAt:     s.CreatedAt,
	}
}

func toProposalResponse(p multisig.Proposal) proposalResponse {
	approvers := make([]string, 0, p.ApprovalCount())
	for _, a := range p.Approvers() {
		approvers = append(approvers, a.Hex())
	}
	resp := proposalResponse{
		ID:          p.ID,
		Proposer:    p.Proposer.Hex(),
		To:          p.To.Hex(),
		Amount:      p.Amount,
		Description: p.Description,
		Status:      string(p.Status()),
		Executed:    p.Executed,
		Approvals:   p.ApprovalCount(),
		Approvers:   approvers,
		CreatedAt:   p.CreatedAt,
	}
	if p.Executed {
		at := p.ExecutedAt
		resp.ExecutedAt = &at
	}
	return resp
}

func toEventResponse(e multisig.Event) eventResponse {
	resp := eventResponse{
		Kind:        string(e.Kind),
		ProposalID:  e.ProposalID,
		Actor:       e.Actor.Hex(),
		Amount:      e.Amount,
		Description: e.Description,
		At:          e.At,
	}
	if e.To != (common.Address{}) {
		resp.To = e.To.Hex()
	}
	return resp
}
