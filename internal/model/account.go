package model

// Account is a linked mailbox identity as reported by the account
// service. The Identity string (a mailbox address) scopes all cache
// and channel state for that mailbox.
type Account struct {
	// Identity is the unique mailbox address.
	Identity string `json:"identity"`

	// Provider names the backing mail provider (e.g., "gmail", "outlook").
	Provider string `json:"provider"`

	// DisplayName is the user-facing label for the account.
	DisplayName string `json:"displayName"`
}

// Category is a user-defined display filter label managed by the
// category service and consumed read-only by the sync engine.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
