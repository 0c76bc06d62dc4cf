package models

import "strings"

// Category is the business operation behind a transaction. Unrecognized values
// collapse into CategoryOther.
type Category string

const (
	CategoryAdRegister              Category = "ad_register"
	CategoryAdUpdateStatus          Category = "ad_update_status"
	CategoryAdFlag                  Category = "ad_flag"
	CategoryAdArchive               Category = "ad_archive"
	CategoryAuctionCreate           Category = "auction_create"
	CategoryAuctionBid              Category = "auction_bid"
	CategoryAuctionSettle           Category = "auction_settle"
	CategoryEscrowCreate            Category = "escrow_create"
	CategoryEscrowApprove           Category = "escrow_approve"
	CategoryEscrowRelease           Category = "escrow_release"
	CategoryEscrowReleasePartial    Category = "escrow_release_partial"
	CategoryEscrowRefund            Category = "escrow_refund"
	CategoryEscrowUpdatePerformance Category = "escrow_update_performance"
	CategoryProposalCreate          Category = "proposal_create"
	CategoryProposalVote            Category = "proposal_vote"
	CategoryProposalFinalize        Category = "proposal_finalize"
	CategoryProposalExecute         Category = "proposal_execute"
	CategoryProposalCancel          Category = "proposal_cancel"
	CategoryPayoutSchedule          Category = "payout_schedule"
	CategoryPayoutExecute           Category = "payout_execute"
	CategoryPublisherEarnings       Category = "publisher_earnings"
	CategoryOther                   Category = "other"
)

var categoryLabels = map[Category]string{
	CategoryAdRegister:              "Register ad content",
	CategoryAdUpdateStatus:          "Update ad status",
	CategoryAdFlag:                  "Flag ad content",
	CategoryAdArchive:               "Archive ad content",
	CategoryAuctionCreate:           "Create auction",
	CategoryAuctionBid:              "Place bid",
	CategoryAuctionSettle:           "Settle auction",
	CategoryEscrowCreate:            "Create escrow",
	CategoryEscrowApprove:           "Approve escrow release",
	CategoryEscrowRelease:           "Release escrow",
	CategoryEscrowReleasePartial:    "Partially release escrow",
	CategoryEscrowRefund:            "Refund escrow",
	CategoryEscrowUpdatePerformance: "Update campaign performance",
	CategoryProposalCreate:          "Create proposal",
	CategoryProposalVote:            "Cast vote",
	CategoryProposalFinalize:        "Finalize proposal",
	CategoryProposalExecute:         "Execute proposal",
	CategoryProposalCancel:          "Cancel proposal",
	CategoryPayoutSchedule:          "Schedule payout",
	CategoryPayoutExecute:           "Execute payout",
	CategoryPublisherEarnings:       "Add publisher earnings",
	CategoryOther:                   "Transaction",
}

// ParseCategory never fails; unknown kinds map to CategoryOther.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := categoryLabels[c]; ok {
		return c
	}
	return CategoryOther
}

// Label is the user facing name of the operation.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return categoryLabels[CategoryOther]
}

func (c *Category) UnmarshalText(text []byte) error {
	*c = ParseCategory(string(text))
	return nil
}
