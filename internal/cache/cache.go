// Package cache implements the volatile, time-bounded store for folder
// lists and paginated message lists, keyed by account identity. Entries
// older than the TTL are treated as absent; callers react to an absent
// read by fetching over the channel. The cache performs no I/O and
// never fails — every miss, expiry, or unknown key is just "absent".
package cache

import (
	"sync"
	"time"

	"github.com/nhle/mailboxd/internal/model"
)

// DefaultTTL is how long an entry stays fresh after it is written.
const DefaultTTL = 5 * time.Minute

// MessagePage is a folder's cached message list together with its
// pagination frontier.
type MessagePage struct {
	Messages      []model.MessageSummary
	NextPageToken string
	Page          int
}

type folderEntry struct {
	folders    []model.Folder
	insertedAt time.Time
}

type pageEntry struct {
	page       MessagePage
	insertedAt time.Time
}

// TimedCache stores folder lists per account and message pages per
// (account, folder), each stamped with an insertion time and lazily
// evicted past the TTL. It deliberately performs no deduplication —
// the sync coordinator owns merge semantics; the cache is a dumb store.
type TimedCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	folders  map[string]folderEntry
	messages map[string]map[string]pageEntry
}

// New creates a TimedCache with the default TTL and wall clock.
func New() *TimedCache {
	return NewWithTTL(DefaultTTL, time.Now)
}

// NewWithTTL creates a TimedCache with an explicit TTL and clock.
// The clock is injectable so expiry is testable without sleeping.
func NewWithTTL(ttl time.Duration, now func() time.Time) *TimedCache {
	if now == nil {
		now = time.Now
	}
	return &TimedCache{
		ttl:      ttl,
		now:      now,
		folders:  make(map[string]folderEntry),
		messages: make(map[string]map[string]pageEntry),
	}
}

// expired reports whether an entry written at t is past the TTL.
func (c *TimedCache) expired(t time.Time) bool {
	return c.now().Sub(t) > c.ttl
}

// GetFolders returns the cached folder list for an account. The second
// return value is false when the entry is missing or expired.
func (c *TimedCache) GetFolders(account string) ([]model.Folder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.folders[account]
	if !ok || c.expired(entry.insertedAt) {
		return nil, false
	}

	folders := make([]model.Folder, len(entry.folders))
	copy(folders, entry.folders)
	return folders, true
}

// SetFolders overwrites the folder list for an account and resets its
// timestamp.
func (c *TimedCache) SetFolders(account string, folders []model.Folder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]model.Folder, len(folders))
	copy(stored, folders)
	c.folders[account] = folderEntry{folders: stored, insertedAt: c.now()}
}

// UpdateFolder applies fn to the cached folder with the given ID, if
// the account's folder list is cached and contains it. The entry's
// timestamp is not refreshed; counter adjustments must not keep an
// expired list alive. Returns whether a folder was updated.
func (c *TimedCache) UpdateFolder(
	account, folderID string, fn func(*model.Folder),
) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.folders[account]
	if !ok || c.expired(entry.insertedAt) {
		return false
	}

	for i := range entry.folders {
		if entry.folders[i].ID == folderID {
			fn(&entry.folders[i])
			c.folders[account] = entry
			return true
		}
	}
	return false
}

// GetMessages returns the cached message page list for a folder. The
// second return value is false when the entry is missing or expired.
func (c *TimedCache) GetMessages(
	account, folderID string,
) (MessagePage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.pageLocked(account, folderID)
	if !ok {
		return MessagePage{}, false
	}

	page := entry.page
	page.Messages = make([]model.MessageSummary, len(entry.page.Messages))
	copy(page.Messages, entry.page.Messages)
	return page, true
}

// SetMessages overwrites a folder's message list with a fresh page and
// frontier, resetting the timestamp. Used for page 1 or a full refresh.
func (c *TimedCache) SetMessages(
	account, folderID string,
	messages []model.MessageSummary,
	nextPageToken string,
	page int,
) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]model.MessageSummary, len(messages))
	copy(stored, messages)

	if c.messages[account] == nil {
		c.messages[account] = make(map[string]pageEntry)
	}
	c.messages[account][folderID] = pageEntry{
		page: MessagePage{
			Messages:      stored,
			NextPageToken: nextPageToken,
			Page:          page,
		},
		insertedAt: c.now(),
	}
}

// AppendMessages concatenates messages onto a folder's existing entry,
// creating one if absent, advances the pagination frontier, and
// refreshes the timestamp. No dedup happens here.
func (c *TimedCache) AppendMessages(
	account, folderID string,
	messages []model.MessageSummary,
	nextPageToken string,
	page int,
) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.messages[account] == nil {
		c.messages[account] = make(map[string]pageEntry)
	}

	entry := c.messages[account][folderID]
	entry.page.Messages = append(entry.page.Messages, messages...)
	entry.page.NextPageToken = nextPageToken
	entry.page.Page = page
	entry.insertedAt = c.now()
	c.messages[account][folderID] = entry
}

// UpdateMessage patches a single cached message in place. It is a
// no-op when the folder entry or the message is absent, and it never
// creates an entry. The entry's timestamp is deliberately NOT
// refreshed: a patch must not resurrect an expired page.
// Returns whether a message was patched.
func (c *TimedCache) UpdateMessage(
	account, folderID, messageID string, patch model.MessagePatch,
) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.messages[account][folderID]
	if !ok {
		return false
	}

	for i := range entry.page.Messages {
		if entry.page.Messages[i].ID == messageID {
			patch.Apply(&entry.page.Messages[i])
			c.messages[account][folderID] = entry
			return true
		}
	}
	return false
}

// ReplaceMessage swaps a cached message for a new object with the same
// ID, preserving its position in the list. Returns whether a message
// was replaced. The timestamp is not refreshed.
func (c *TimedCache) ReplaceMessage(
	account, folderID string, msg model.MessageSummary,
) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.messages[account][folderID]
	if !ok {
		return false
	}

	for i := range entry.page.Messages {
		if entry.page.Messages[i].ID == msg.ID {
			entry.page.Messages[i] = msg
			c.messages[account][folderID] = entry
			return true
		}
	}
	return false
}

// PrependMessage inserts a message at the head of a folder's cached
// list (newest-first order is server-assigned). It is a no-op when the
// entry is absent or expired — a folder that was never loaded stays
// lazy. Returns whether the message was inserted.
func (c *TimedCache) PrependMessage(
	account, folderID string, msg model.MessageSummary,
) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.pageLocked(account, folderID)
	if !ok {
		return false
	}

	entry.page.Messages = append(
		[]model.MessageSummary{msg}, entry.page.Messages...,
	)
	c.messages[account][folderID] = entry
	return true
}

// InsertMessage restores a message at the given position in a folder's
// cached list, clamping the index to the list bounds. Used to undo an
// optimistic delete. Returns whether the message was inserted.
func (c *TimedCache) InsertMessage(
	account, folderID string, msg model.MessageSummary, index int,
) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.messages[account][folderID]
	if !ok {
		return false
	}

	msgs := entry.page.Messages
	if index < 0 {
		index = 0
	}
	if index > len(msgs) {
		index = len(msgs)
	}

	msgs = append(msgs, model.MessageSummary{})
	copy(msgs[index+1:], msgs[index:])
	msgs[index] = msg
	entry.page.Messages = msgs
	c.messages[account][folderID] = entry
	return true
}

// RemoveMessage deletes a message from a folder's cached list,
// returning the removed summary and its former position so the caller
// can roll the removal back. ok is false when nothing was removed.
func (c *TimedCache) RemoveMessage(
	account, folderID, messageID string,
) (removed model.MessageSummary, index int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.messages[account][folderID]
	if !found {
		return model.MessageSummary{}, 0, false
	}

	for i := range entry.page.Messages {
		if entry.page.Messages[i].ID == messageID {
			removed = entry.page.Messages[i]
			entry.page.Messages = append(
				entry.page.Messages[:i], entry.page.Messages[i+1:]...,
			)
			c.messages[account][folderID] = entry
			return removed, i, true
		}
	}
	return model.MessageSummary{}, 0, false
}

// Clear drops all entries for a single account.
func (c *TimedCache) Clear(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.folders, account)
	delete(c.messages, account)
}

// ClearAll drops every entry for every account.
func (c *TimedCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.folders = make(map[string]folderEntry)
	c.messages = make(map[string]map[string]pageEntry)
}

// pageLocked returns the live (unexpired) page entry for a folder.
// Callers must hold c.mu.
func (c *TimedCache) pageLocked(
	account, folderID string,
) (pageEntry, bool) {
	entry, ok := c.messages[account][folderID]
	if !ok || c.expired(entry.insertedAt) {
		return pageEntry{}, false
	}
	return entry, true
}
