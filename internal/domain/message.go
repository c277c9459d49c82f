package domain

// Endpoint is one delivery target registered for a recipient.
// Owned by the profile side; the worker only reads and deletes it.
type Endpoint struct {
	RecipientID string `json:"recipient_id"`
	EndpointID  string `json:"endpoint_id"`
	Token       string `json:"token"`
}

// MessageItem is one (task, endpoint) pair ready to hand to the gateway.
// Never persisted.
type MessageItem struct {
	TaskID      string
	RecipientID string
	EndpointID  string
	Token       string
	Title       string
	Body        string
}

// TaskStat accumulates delivery outcomes for one task across gateway batches.
type TaskStat struct {
	Total     int
	Success   int
	Fail      int
	Invalid   int
	LastError string
}

// Summary applies the outcome rule:
//
//	fail == 0              -> success
//	fail > 0, success > 0  -> partial
//	fail > 0, success == 0 -> failed
func (s TaskStat) Summary() ResultSummary {
	switch {
	case s.Fail == 0:
		return SummarySuccess
	case s.Success > 0:
		return SummaryPartial
	default:
		return SummaryFailed
	}
}
