package events

// Topics emitted by the payments core.
const (
	TopicRentalPaid         = "rental.paid"
	TopicListingPublished   = "listing.published"
	TopicSettlementRecorded = "settlement.recorded"
	TopicPaymentFailed      = "payment.failed"
)
