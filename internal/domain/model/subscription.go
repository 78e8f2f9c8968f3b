package model

// Subscription is a live interest of one client session in one job's
// chunk stream. It is owned by the gateway; the multiplexer only holds
// the (SubscriberID, JobID) pair so tearing down a job does not require
// the gateway to exist.
type Subscription struct {
	SubscriberID string
	JobID        string
	LastAckedSeq int64 // -1 until the first ack
	Credit       int
}
