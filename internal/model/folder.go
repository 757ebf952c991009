package model

// Folder is a named partition of messages within one mailbox account,
// carrying the aggregate counts shown in folder lists.
type Folder struct {
	// ID is the server-assigned folder identifier.
	ID string `json:"id"`

	// DisplayName is the human-readable folder name (e.g., "Inbox").
	DisplayName string `json:"displayName"`

	// TotalItemCount is the number of messages in the folder.
	TotalItemCount int `json:"totalItemCount"`

	// UnreadItemCount is the number of unread messages in the folder.
	// Always >= 0 and <= TotalItemCount.
	UnreadItemCount int `json:"unreadItemCount"`
}

// AdjustCounts applies a delta to the folder's counters, saturating so
// that the counts never go negative and unread never exceeds total.
func (f *Folder) AdjustCounts(totalDelta, unreadDelta int) {
	f.TotalItemCount += totalDelta
	if f.TotalItemCount < 0 {
		f.TotalItemCount = 0
	}

	f.UnreadItemCount += unreadDelta
	if f.UnreadItemCount < 0 {
		f.UnreadItemCount = 0
	}
	if f.UnreadItemCount > f.TotalItemCount {
		f.UnreadItemCount = f.TotalItemCount
	}
}
