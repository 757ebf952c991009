// Package sync implements the reconciliation layer of the mailbox
// engine. The Coordinator is the single writer of the timed cache and
// the only component issuing fetch requests over the channel: it
// merges push-delivered server events with optimistic local mutations
// and produces the deduplicated, order-correct view consumers read.
package sync

import (
	"context"
	"encoding/json"
	"strings"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailboxd/internal/cache"
	"github.com/nhle/mailboxd/internal/channel"
	"github.com/nhle/mailboxd/internal/model"
	"github.com/nhle/mailboxd/internal/session"
)

// fetchTimeout bounds a fetch that receives no reply: the loading
// state is cleared and the operation abandoned (not retried). The
// cache stays absent, so the next access re-triggers the fetch.
const defaultFetchTimeout = 10 * time.Second

// timer keys for the in-flight fetch watchdogs.
const timerFolders = "folders"

// mutationSnapshot retains the pre-mutation state of a message so a
// server rejection can roll the optimistic change back.
type mutationSnapshot struct {
	op          channel.EventName
	msg         model.MessageSummary
	folderID    string
	index       int // list position, for restoring a delete
	totalDelta  int // counter change applied optimistically
	unreadDelta int
}

// Coordinator orchestrates the cache and the channel for one active
// account at a time.
type Coordinator struct {
	cache    *cache.TimedCache
	mgr      *channel.Manager
	sessions *session.Store // optional; nil disables persistence
	log      zerolog.Logger

	fetchTimeout time.Duration
	updates      chan Update

	mu            gosync.Mutex
	handle        *channel.Handle
	account       string
	activeFolder  string
	folderLoading bool
	pageLoading   bool
	timers        map[string]*time.Timer
	pending       map[string]mutationSnapshot
}

// New creates a Coordinator. sessions may be nil when the host supplies
// identity state some other way.
func New(
	c *cache.TimedCache,
	mgr *channel.Manager,
	sessions *session.Store,
	log zerolog.Logger,
) *Coordinator {
	coord := &Coordinator{
		cache:        c,
		mgr:          mgr,
		sessions:     sessions,
		log:          log,
		fetchTimeout: defaultFetchTimeout,
		updates:      make(chan Update, 64),
		timers:       make(map[string]*time.Timer),
		pending:      make(map[string]mutationSnapshot),
	}

	mgr.SetFatalHandler(func(err error) {
		coord.mu.Lock()
		account := coord.account
		coord.mu.Unlock()
		coord.emit(AuthRequiredUpdate{Account: account, Err: err})
	})
	mgr.SetUnreachableHandler(func(failures int) {
		coord.emit(NoticeUpdate{
			Severity: SeverityError,
			Message:  "server unreachable",
		})
	})

	return coord
}

// Updates returns the stream of state changes for the presentation
// layer. Delivery is non-blocking; a consumer that stops draining
// loses updates rather than stalling the engine.
func (c *Coordinator) Updates() <-chan Update {
	return c.updates
}

// Loading reports whether a folder-list or page fetch is in flight.
func (c *Coordinator) Loading() (folders, page bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.folderLoading, c.pageLoading
}

// ActiveFolder returns the folder whose list view is current.
func (c *Coordinator) ActiveFolder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeFolder
}

// Activate opens the channel for an account and runs folder bootstrap.
// In-memory coordinator state is reset; cache entries are kept — they
// stay keyed by account and are reused if the user switches back
// within the TTL.
func (c *Coordinator) Activate(
	ctx context.Context, account string, creds channel.Credentials,
) error {
	h, err := c.mgr.Open(ctx, account, creds)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.handle
	c.handle = h
	c.account = account
	c.activeFolder = ""
	c.folderLoading = false
	c.pageLoading = false
	c.pending = make(map[string]mutationSnapshot)
	for key, timer := range c.timers {
		timer.Stop()
		delete(c.timers, key)
	}
	c.mu.Unlock()

	if old != nil && old != h {
		// Drop the previous account's registrations; Open already
		// replaced the connection itself.
		c.mgr.Close(old)
	}
	if old != h {
		c.registerHandlers(h)
	}

	if c.sessions != nil {
		if err := c.sessions.SetActiveAccount(ctx, account); err != nil {
			c.log.Warn().Err(err).Msg("persisting active account")
		}
	}

	c.bootstrapFolders(ctx)
	return nil
}

// OnAccountSwitch is the push notification the host calls when the
// active account identity changes.
func (c *Coordinator) OnAccountSwitch(
	ctx context.Context, account string, creds channel.Credentials,
) error {
	return c.Activate(ctx, account, creds)
}

// Close stops watchdog timers and releases the channel handle.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for key, timer := range c.timers {
		timer.Stop()
		delete(c.timers, key)
	}
	h := c.handle
	c.handle = nil
	c.mu.Unlock()

	if h != nil {
		c.mgr.Close(h)
	}
}

// bootstrapFolders serves folders from the cache when fresh, otherwise
// requests them over the channel. Both paths end in the same place:
// folders known, initial folder selected.
func (c *Coordinator) bootstrapFolders(ctx context.Context) {
	c.mu.Lock()
	account := c.account
	c.mu.Unlock()

	if folders, ok := c.cache.GetFolders(account); ok {
		c.emit(FoldersUpdate{Account: account, Folders: folders})
		c.selectInitialFolder(ctx, account, folders)
		return
	}

	c.mu.Lock()
	c.folderLoading = true
	c.armTimerLocked(timerFolders)
	c.mu.Unlock()

	if err := c.mgr.Send(channel.EventGetFolders, channel.GetFoldersPayload{
		Account: account,
	}); err != nil {
		c.log.Warn().Err(err).Msg("requesting folders")
		c.clearLoading(timerFolders)
	}
}

// selectInitialFolder picks the last-used folder when the session
// store remembers one, falling back to the canonical inbox.
func (c *Coordinator) selectInitialFolder(
	ctx context.Context, account string, folders []model.Folder,
) {
	if len(folders) == 0 {
		return
	}

	if c.sessions != nil {
		last, err := c.sessions.LastFolder(ctx, account)
		if err == nil && last != "" {
			for _, f := range folders {
				if f.ID == last {
					c.SelectFolder(last)
					return
				}
			}
		}
	}

	c.SelectFolder(findInbox(folders).ID)
}

// findInbox locates the canonical inbox by case-insensitive name
// match, falling back to the first folder in server order.
func findInbox(folders []model.Folder) model.Folder {
	for _, f := range folders {
		if strings.EqualFold(f.DisplayName, "inbox") {
			return f
		}
	}
	return folders[0]
}

// SelectFolder makes folderID the active folder, serving its page list
// from the cache when fresh and requesting page 1 otherwise.
func (c *Coordinator) SelectFolder(folderID string) {
	c.mu.Lock()
	c.activeFolder = folderID
	account := c.account
	c.mu.Unlock()

	if c.sessions != nil {
		if err := c.sessions.SetLastFolder(
			context.Background(), account, folderID,
		); err != nil {
			c.log.Warn().Err(err).Msg("persisting last folder")
		}
	}

	if page, ok := c.cache.GetMessages(account, folderID); ok {
		c.emit(MessagesUpdate{
			Account:       account,
			FolderID:      folderID,
			Messages:      page.Messages,
			NextPageToken: page.NextPageToken,
			Page:          page.Page,
		})
		return
	}

	c.requestPage(account, folderID, 1)
}

// LoadNextPage advances the active folder's pagination frontier. It is
// a no-op when the frontier is exhausted.
func (c *Coordinator) LoadNextPage() {
	c.mu.Lock()
	account := c.account
	folderID := c.activeFolder
	c.mu.Unlock()

	if folderID == "" {
		return
	}

	page, ok := c.cache.GetMessages(account, folderID)
	if !ok {
		c.requestPage(account, folderID, 1)
		return
	}
	if page.NextPageToken == "" {
		return
	}
	c.requestPage(account, folderID, page.Page+1)
}

func (c *Coordinator) requestPage(account, folderID string, page int) {
	c.mu.Lock()
	c.pageLoading = true
	c.armTimerLocked(pageTimerKey(folderID))
	c.mu.Unlock()

	if err := c.mgr.Send(channel.EventGetFolderPage, channel.GetFolderPagePayload{
		Account:  account,
		FolderID: folderID,
		Page:     page,
	}); err != nil {
		c.log.Warn().Err(err).Str("folder", folderID).Msg("requesting page")
		c.clearLoading(pageTimerKey(folderID))
	}
}

// FetchDetail requests the full message content. The detail arrives
// later as a DetailUpdate and is never cached.
func (c *Coordinator) FetchDetail(messageID string) error {
	c.mu.Lock()
	account := c.account
	c.mu.Unlock()

	return c.mgr.Send(channel.EventGetMessageDetail, channel.GetMessageDetailPayload{
		Account:   account,
		MessageID: messageID,
	})
}

// SendMessage submits a composed message.
func (c *Coordinator) SendMessage(composed model.ComposedMessage) error {
	c.mu.Lock()
	account := c.account
	c.mu.Unlock()

	return c.mgr.Send(channel.EventSendMessage, channel.SendMessagePayload{
		Account:  account,
		Composed: composed,
	})
}

// ReplyMessage submits a reply to an existing message.
func (c *Coordinator) ReplyMessage(
	messageID string, composed model.ComposedMessage,
) error {
	c.mu.Lock()
	account := c.account
	c.mu.Unlock()

	return c.mgr.Send(channel.EventReplyMessage, channel.ReplyMessagePayload{
		Account:   account,
		MessageID: messageID,
		Composed:  composed,
	})
}

// MarkRead optimistically marks a message read in the active folder,
// decrements the folder's unread counter (saturating), and issues the
// request. A later server error event rolls the change back.
func (c *Coordinator) MarkRead(messageID string) error {
	c.mu.Lock()
	account := c.account
	folderID := c.activeFolder
	c.mu.Unlock()

	msg, ok := c.findCached(account, folderID, messageID)
	if !ok || msg.Read {
		return nil
	}

	snap := mutationSnapshot{
		op:          channel.EventMarkRead,
		msg:         msg,
		folderID:    folderID,
		unreadDelta: -1,
	}

	c.cache.UpdateMessage(account, folderID, messageID, model.MessagePatch{
		Read: model.Bool(true),
	})
	c.cache.UpdateFolder(account, folderID, func(f *model.Folder) {
		f.AdjustCounts(0, -1)
	})
	c.setPending(messageID, snap)

	if err := c.mgr.Send(channel.EventMarkRead, channel.MarkReadPayload{
		Account: account, MessageID: messageID,
	}); err != nil {
		c.rollback(account, messageID, snap)
		return err
	}

	c.emitFolderState(account, folderID)
	return nil
}

// MarkImportant optimistically toggles the important flag and issues
// the request.
func (c *Coordinator) MarkImportant(messageID string, flag bool) error {
	c.mu.Lock()
	account := c.account
	folderID := c.activeFolder
	c.mu.Unlock()

	msg, ok := c.findCached(account, folderID, messageID)
	if !ok || msg.Important == flag {
		return nil
	}

	snap := mutationSnapshot{
		op:       channel.EventMarkImportant,
		msg:      msg,
		folderID: folderID,
	}

	c.cache.UpdateMessage(account, folderID, messageID, model.MessagePatch{
		Important: model.Bool(flag),
	})
	c.setPending(messageID, snap)

	if err := c.mgr.Send(channel.EventMarkImportant, channel.MarkImportantPayload{
		Account: account, MessageID: messageID, Flag: flag,
	}); err != nil {
		c.rollback(account, messageID, snap)
		return err
	}

	c.emitMessages(account, folderID)
	return nil
}

// DeleteMessage optimistically removes a message from the active
// folder's cached list and issues the request. The removed summary and
// its position are retained so a server rejection can restore it.
func (c *Coordinator) DeleteMessage(messageID string) error {
	c.mu.Lock()
	account := c.account
	folderID := c.activeFolder
	c.mu.Unlock()

	removed, index, ok := c.cache.RemoveMessage(account, folderID, messageID)
	if !ok {
		return nil
	}

	unreadDelta := 0
	if !removed.Read {
		unreadDelta = -1
	}
	snap := mutationSnapshot{
		op:          channel.EventDeleteMessage,
		msg:         removed,
		folderID:    folderID,
		index:       index,
		totalDelta:  -1,
		unreadDelta: unreadDelta,
	}

	c.cache.UpdateFolder(account, folderID, func(f *model.Folder) {
		f.AdjustCounts(-1, unreadDelta)
	})
	c.setPending(messageID, snap)

	if err := c.mgr.Send(channel.EventDeleteMessage, channel.DeleteMessagePayload{
		Account: account, MessageID: messageID,
	}); err != nil {
		c.rollback(account, messageID, snap)
		return err
	}

	c.emitFolderState(account, folderID)
	return nil
}

// decode unmarshals an inbound payload, logging and skipping the event
// on malformed data rather than failing the session.
func (c *Coordinator) decode(env channel.Envelope, v any) bool {
	if len(env.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		c.log.Warn().Err(err).Str("event", string(env.Name)).
			Msg("dropping malformed event payload")
		return false
	}
	return true
}

// registerHandlers subscribes the coordinator to every inbound event
// through the given handle.
func (c *Coordinator) registerHandlers(h *channel.Handle) {
	h.On(channel.EventFolders, func(env channel.Envelope) {
		var p channel.FoldersPayload
		if c.decode(env, &p) {
			c.onFolders(p)
		}
	})
	h.On(channel.EventFolderPage, func(env channel.Envelope) {
		var p channel.FolderPagePayload
		if c.decode(env, &p) {
			c.onFolderPage(p)
		}
	})
	h.On(channel.EventMessageDetail, func(env channel.Envelope) {
		var p channel.MessageDetailPayload
		if c.decode(env, &p) {
			c.onMessageDetail(p)
		}
	})
	h.On(channel.EventMessageRead, func(env channel.Envelope) {
		var p channel.MessageReadPayload
		if c.decode(env, &p) {
			c.onMessageRead(p)
		}
	})
	h.On(channel.EventImportantChanged, func(env channel.Envelope) {
		var p channel.ImportantChangedPayload
		if c.decode(env, &p) {
			c.onImportantChanged(p)
		}
	})
	h.On(channel.EventMessageDeleted, func(env channel.Envelope) {
		var p channel.MessageDeletedPayload
		if c.decode(env, &p) {
			c.onMessageDeleted(p)
		}
	})
	h.On(channel.EventNewMessage, func(env channel.Envelope) {
		var p channel.NewMessagePayload
		if c.decode(env, &p) {
			c.onNewMessage(p)
		}
	})
	h.On(channel.EventSyncComplete, func(env channel.Envelope) {
		c.mu.Lock()
		account := c.account
		c.mu.Unlock()
		c.emit(SyncedUpdate{Account: account})
	})
	h.On(channel.EventEnrichmentStatus, func(env channel.Envelope) {
		var p channel.EnrichmentStatusPayload
		if c.decode(env, &p) {
			c.onEnrichmentStatus(p)
		}
	})
	h.On(channel.EventError, func(env channel.Envelope) {
		var p channel.ErrorPayload
		if c.decode(env, &p) {
			c.onError(p)
		}
	})
}

func (c *Coordinator) onFolders(p channel.FoldersPayload) {
	c.mu.Lock()
	account := c.account
	needSelect := c.activeFolder == ""
	c.mu.Unlock()

	c.cache.SetFolders(account, p.Folders)
	c.clearLoading(timerFolders)
	c.emit(FoldersUpdate{Account: account, Folders: p.Folders})

	if needSelect {
		c.selectInitialFolder(context.Background(), account, p.Folders)
	}
}

func (c *Coordinator) onFolderPage(p channel.FolderPagePayload) {
	c.mu.Lock()
	account := c.account
	active := c.activeFolder
	c.mu.Unlock()

	if p.FolderID != active {
		// Late reply for a folder the user already left.
		c.log.Debug().Str("folder", p.FolderID).Msg("dropping stale page event")
		return
	}

	c.clearLoading(pageTimerKey(p.FolderID))

	incoming := dedupByID(p.Messages)

	existing, ok := c.cache.GetMessages(account, p.FolderID)
	if p.Page <= 1 || !ok {
		// Page 1 always replaces, regardless of append history; and a
		// missing or expired entry is replaced rather than appended to.
		c.cache.SetMessages(
			account, p.FolderID, incoming, p.NextPageToken, p.Page,
		)
		c.emitMessages(account, p.FolderID)
		return
	}

	// Messages whose id is already cached are full replacements of the
	// old object, preserving position; only genuinely new ones append.
	known := make(map[string]struct{}, len(existing.Messages))
	for _, m := range existing.Messages {
		known[m.ID] = struct{}{}
	}

	appended := make([]model.MessageSummary, 0, len(incoming))
	for _, m := range incoming {
		if _, dup := known[m.ID]; dup {
			c.cache.ReplaceMessage(account, p.FolderID, m)
		} else {
			appended = append(appended, m)
		}
	}
	c.cache.AppendMessages(
		account, p.FolderID, appended, p.NextPageToken, p.Page,
	)
	c.emitMessages(account, p.FolderID)
}

func (c *Coordinator) onMessageDetail(p channel.MessageDetailPayload) {
	c.mu.Lock()
	account := c.account
	c.mu.Unlock()
	c.emit(DetailUpdate{Account: account, Detail: p.Detail})
}

func (c *Coordinator) onMessageRead(p channel.MessageReadPayload) {
	c.mu.Lock()
	account := c.account
	folderID := c.activeFolder
	c.mu.Unlock()

	if _, confirmed := c.takePending(p.MessageID, channel.EventMarkRead); confirmed {
		// The optimistic state already reflects the confirmed value.
		return
	}

	// Server-initiated read change (e.g., another device).
	msg, ok := c.findCached(account, folderID, p.MessageID)
	if !ok || msg.Read {
		return
	}
	c.cache.UpdateMessage(account, folderID, p.MessageID, model.MessagePatch{
		Read: model.Bool(true),
	})
	c.cache.UpdateFolder(account, msg.Folder, func(f *model.Folder) {
		f.AdjustCounts(0, -1)
	})
	c.emitFolderState(account, folderID)
}

func (c *Coordinator) onImportantChanged(p channel.ImportantChangedPayload) {
	c.mu.Lock()
	account := c.account
	folderID := c.activeFolder
	c.mu.Unlock()

	c.takePending(p.MessageID, channel.EventMarkImportant)

	// Server is authoritative: apply its flag whether or not it matches
	// the optimistic guess.
	msg, ok := c.findCached(account, folderID, p.MessageID)
	if !ok || msg.Important == p.Flag {
		return
	}
	c.cache.UpdateMessage(account, folderID, p.MessageID, model.MessagePatch{
		Important: model.Bool(p.Flag),
	})
	c.emitMessages(account, folderID)
}

func (c *Coordinator) onMessageDeleted(p channel.MessageDeletedPayload) {
	c.mu.Lock()
	account := c.account
	folderID := c.activeFolder
	c.mu.Unlock()

	c.takePending(p.MessageID, channel.EventDeleteMessage)

	// Still cached means the delete originated elsewhere; mirror it.
	removed, _, ok := c.cache.RemoveMessage(account, folderID, p.MessageID)
	if !ok {
		return
	}
	unreadDelta := 0
	if !removed.Read {
		unreadDelta = -1
	}
	c.cache.UpdateFolder(account, removed.Folder, func(f *model.Folder) {
		f.AdjustCounts(-1, unreadDelta)
	})
	c.emitFolderState(account, folderID)
}

func (c *Coordinator) onNewMessage(p channel.NewMessagePayload) {
	c.mu.Lock()
	account := c.account
	active := c.activeFolder
	c.mu.Unlock()

	msg := p.Message
	unreadDelta := 0
	if !msg.Read {
		unreadDelta = 1
	}

	c.cache.UpdateFolder(account, msg.Folder, func(f *model.Folder) {
		f.AdjustCounts(1, unreadDelta)
	})

	if msg.Folder == active {
		// Newest-first order is server-assigned; a pushed message goes
		// to the head of the active list.
		c.cache.PrependMessage(account, active, msg)
		c.emitMessages(account, active)
	}
	c.emitFolders(account)
}

func (c *Coordinator) onEnrichmentStatus(p channel.EnrichmentStatusPayload) {
	c.mu.Lock()
	account := c.account
	folderID := c.activeFolder
	c.mu.Unlock()

	if len(p.Meta) == 0 {
		return
	}
	if c.cache.UpdateMessage(account, folderID, p.MessageID, model.MessagePatch{
		Meta: p.Meta,
	}) {
		c.emitMessages(account, folderID)
	}
}

func (c *Coordinator) onError(p channel.ErrorPayload) {
	c.mu.Lock()
	account := c.account
	folderID := c.activeFolder
	c.mu.Unlock()

	if p.MessageID == "" {
		c.emit(NoticeUpdate{Severity: SeverityWarn, Message: p.Message})
		return
	}

	snap, ok := c.takePendingAny(p.MessageID)
	if ok {
		c.rollback(account, p.MessageID, snap)
		c.emit(NoticeUpdate{Severity: SeverityWarn, Message: p.Message})
		c.emitFolderState(account, snap.folderID)
		return
	}

	// Pre-mutation state was not retained; recover with a full refetch
	// of the active folder page.
	c.log.Warn().Str("message", p.MessageID).
		Msg("no snapshot for rejected mutation, refetching folder")
	c.emit(NoticeUpdate{Severity: SeverityWarn, Message: p.Message})
	c.requestPage(account, folderID, 1)
}

// rollback restores the last known-good state for a rejected mutation.
func (c *Coordinator) rollback(
	account, messageID string, snap mutationSnapshot,
) {
	if snap.op == channel.EventDeleteMessage {
		c.cache.InsertMessage(account, snap.folderID, snap.msg, snap.index)
	} else {
		c.cache.ReplaceMessage(account, snap.folderID, snap.msg)
	}
	if snap.totalDelta != 0 || snap.unreadDelta != 0 {
		c.cache.UpdateFolder(account, snap.folderID, func(f *model.Folder) {
			f.AdjustCounts(-snap.totalDelta, -snap.unreadDelta)
		})
	}
}

func (c *Coordinator) setPending(messageID string, snap mutationSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[messageID] = snap
}

// takePending removes and returns the snapshot for messageID if its
// operation matches.
func (c *Coordinator) takePending(
	messageID string, op channel.EventName,
) (mutationSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.pending[messageID]
	if !ok || snap.op != op {
		return mutationSnapshot{}, false
	}
	delete(c.pending, messageID)
	return snap, true
}

func (c *Coordinator) takePendingAny(
	messageID string,
) (mutationSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.pending[messageID]
	if ok {
		delete(c.pending, messageID)
	}
	return snap, ok
}

// findCached looks a message up in a folder's cached page list.
func (c *Coordinator) findCached(
	account, folderID, messageID string,
) (model.MessageSummary, bool) {
	page, ok := c.cache.GetMessages(account, folderID)
	if !ok {
		return model.MessageSummary{}, false
	}
	for _, m := range page.Messages {
		if m.ID == messageID {
			return m, true
		}
	}
	return model.MessageSummary{}, false
}

// armTimerLocked starts (or restarts) the watchdog that abandons a
// fetch after the timeout. Callers must hold c.mu.
func (c *Coordinator) armTimerLocked(key string) {
	if timer, ok := c.timers[key]; ok {
		timer.Stop()
	}
	c.timers[key] = time.AfterFunc(c.fetchTimeout, func() {
		c.log.Warn().Str("fetch", key).Msg("fetch timed out, abandoning")
		c.clearLoading(key)
	})
}

// clearLoading cancels a fetch watchdog and clears its loading flag.
func (c *Coordinator) clearLoading(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timer, ok := c.timers[key]; ok {
		timer.Stop()
		delete(c.timers, key)
	}
	if key == timerFolders {
		c.folderLoading = false
	} else {
		c.pageLoading = false
	}
}

func pageTimerKey(folderID string) string {
	return "page:" + folderID
}

// dedupByID collapses duplicate ids within one inbound list: a later
// occurrence replaces the earlier one in place, preserving position.
func dedupByID(msgs []model.MessageSummary) []model.MessageSummary {
	seen := make(map[string]int, len(msgs))
	out := msgs[:0:0]
	for _, m := range msgs {
		if i, dup := seen[m.ID]; dup {
			out[i] = m
			continue
		}
		seen[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// emitMessages publishes the current cached list for a folder.
func (c *Coordinator) emitMessages(account, folderID string) {
	page, ok := c.cache.GetMessages(account, folderID)
	if !ok {
		return
	}
	c.emit(MessagesUpdate{
		Account:       account,
		FolderID:      folderID,
		Messages:      page.Messages,
		NextPageToken: page.NextPageToken,
		Page:          page.Page,
	})
}

// emitFolders publishes the current cached folder list.
func (c *Coordinator) emitFolders(account string) {
	folders, ok := c.cache.GetFolders(account)
	if !ok {
		return
	}
	c.emit(FoldersUpdate{Account: account, Folders: folders})
}

// emitFolderState publishes both the message list and the folder
// counters after a change that touched both.
func (c *Coordinator) emitFolderState(account, folderID string) {
	c.emitMessages(account, folderID)
	c.emitFolders(account)
}

// emit delivers an update without blocking the engine.
func (c *Coordinator) emit(u Update) {
	select {
	case c.updates <- u:
	default:
		c.log.Warn().Msg("update channel full, dropping update")
	}
}
