package model

// Event type names carried in the wire envelope's type field.
const (
	TypeProposalCreated    = "proposalCreated"
	TypeVoteCast           = "voteCast"
	TypeProposalFinalized  = "proposalFinalized"
	TypeProposalExecuted   = "proposalExecuted"
	TypeProposalCancelled  = "proposalCancelled"
	TypeMemberAdded        = "memberAdded"
	TypeKycVerified        = "kycVerified"
	TypeTreasuryDeposit    = "treasuryDeposit"
	TypeTreasuryWithdrawal = "treasuryWithdrawal"
)

// Vote choices as emitted by the DAO contract.
const (
	ChoiceFor     = 0
	ChoiceAgainst = 1
	ChoiceAbstain = 2
)

// -----------------------------------------------------------------------------
// Proposal Events
// -----------------------------------------------------------------------------

// ProposalCreated announces a new governance proposal.
type ProposalCreated struct {
	ID            int64  `json:"id"`            // Proposal id
	Proposer      string `json:"proposer"`      // Proposer address
	Title         string `json:"title"`         // Display title
	StartTime     int64  `json:"startTime"`     // Voting window open (s since epoch)
	EndTime       int64  `json:"endTime"`       // Voting window close (s since epoch)
	KycCommitment string `json:"kycCommitment"` // Proposer's KYC commitment hash
}

// VoteCast records one member's vote on a proposal.
type VoteCast struct {
	ID        int64  `json:"id"`        // Proposal id
	Voter     string `json:"voter"`     // Voter address
	Choice    int    `json:"choice"`    // ChoiceFor, ChoiceAgainst, ChoiceAbstain
	Weight    string `json:"weight"`    // Voting weight (token units)
	ProofHash string `json:"proofHash"` // Eligibility proof hash
}

// ProposalFinalized closes a proposal's voting window with its final state.
type ProposalFinalized struct {
	ID    int64 `json:"id"`    // Proposal id
	State int   `json:"state"` // Final contract state code
}

// ProposalExecuted records the on-chain execution of a passed proposal.
type ProposalExecuted struct {
	ID       int64  `json:"id"`       // Proposal id
	Executor string `json:"executor"` // Executor address
}

// ProposalCancelled records a proposal withdrawn before execution.
type ProposalCancelled struct {
	ID          int64  `json:"id"`          // Proposal id
	CancelledBy string `json:"cancelledBy"` // Canceller address
}

// -----------------------------------------------------------------------------
// Membership Events
// -----------------------------------------------------------------------------

// MemberAdded announces a new DAO member.
type MemberAdded struct {
	Member string `json:"member"` // Member address
}

// KycVerified records a member clearing KYC review.
type KycVerified struct {
	Member   string `json:"member"`   // Member address
	Verifier string `json:"verifier"` // Verifier address
}

// -----------------------------------------------------------------------------
// Treasury Events
// -----------------------------------------------------------------------------

// TreasuryDeposit records ETH received by the treasury.
type TreasuryDeposit struct {
	From   string `json:"from"`   // Depositor address
	Amount string `json:"amount"` // Amount in wei
}

// TreasuryWithdrawal records a queued or executed treasury withdrawal.
type TreasuryWithdrawal struct {
	WithdrawalID int64  `json:"withdrawalId"` // Withdrawal id
	Recipient    string `json:"recipient"`    // Recipient address
	Amount       string `json:"amount"`       // Amount in wei
}
