package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailboxd/internal/cache"
	"github.com/nhle/mailboxd/internal/channel"
	"github.com/nhle/mailboxd/internal/model"
	"github.com/nhle/mailboxd/tests/testutil"
)

const testAccount = "a@x.com"

func newTestCoordinator(t *testing.T) (*Coordinator, *testutil.FakeTransport) {
	t.Helper()

	ft := &testutil.FakeTransport{}
	mgr := channel.New(channel.Options{Transport: ft})
	coord := New(cache.New(), mgr, nil, zerolog.Nop())
	t.Cleanup(coord.Close)
	return coord, ft
}

// awaitUpdate drains the update stream until an update of type T
// arrives.
func awaitUpdate[T Update](t *testing.T, c *Coordinator) T {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-c.Updates():
			if v, ok := u.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func waitForSent(
	t *testing.T, conn *testutil.FakeConn, name channel.EventName, count int,
) {
	t.Helper()
	waitFor(t, func() bool {
		return len(conn.SentNamed(name)) >= count
	}, "outbound "+string(name))
}

// bootstrap activates the test account and walks the coordinator
// through folder bootstrap and the inbox page-1 load: folder f1
// ("Inbox") holds m1 (unread) and m2 (read), folder f2 ("Archive") is
// never loaded.
func bootstrap(
	t *testing.T, coord *Coordinator, ft *testutil.FakeTransport,
) *testutil.FakeConn {
	t.Helper()

	require.NoError(t, coord.Activate(
		context.Background(), testAccount, channel.Credentials{},
	))
	conn := ft.Conn(0)
	waitForSent(t, conn, channel.EventGetFolders, 1)

	conn.Deliver(t, channel.EventFolders, channel.FoldersPayload{
		Folders: []model.Folder{
			{ID: "f1", DisplayName: "Inbox", TotalItemCount: 2, UnreadItemCount: 1},
			{ID: "f2", DisplayName: "Archive", TotalItemCount: 5, UnreadItemCount: 2},
		},
	})
	awaitUpdate[FoldersUpdate](t, coord)

	waitForSent(t, conn, channel.EventGetFolderPage, 1)
	conn.Deliver(t, channel.EventFolderPage, channel.FolderPagePayload{
		FolderID: "f1",
		Page:     1,
		Messages: []model.MessageSummary{
			{ID: "m1", Folder: "f1", Subject: "first", Read: false},
			{ID: "m2", Folder: "f1", Subject: "second", Read: true},
		},
		NextPageToken: "tok2",
	})
	awaitUpdate[MessagesUpdate](t, coord)

	return conn
}

func folderByID(t *testing.T, c *Coordinator, id string) model.Folder {
	t.Helper()
	folders, ok := c.cache.GetFolders(testAccount)
	require.True(t, ok)
	for _, f := range folders {
		if f.ID == id {
			return f
		}
	}
	t.Fatalf("folder %s not cached", id)
	return model.Folder{}
}

func TestBootstrapFromChannel(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	// The channel was announced and the inbox selected by
	// case-insensitive name match.
	names := conn.SentNamed(channel.EventInit)
	require.Len(t, names, 1)
	assert.Equal(t, "f1", coord.ActiveFolder())

	page, ok := coord.cache.GetMessages(testAccount, "f1")
	require.True(t, ok)
	assert.Len(t, page.Messages, 2)
	assert.Equal(t, "tok2", page.NextPageToken)
	assert.Equal(t, 1, page.Page)
}

func TestBootstrapServedFromCache(t *testing.T) {
	coord, ft := newTestCoordinator(t)

	coord.cache.SetFolders(testAccount, []model.Folder{
		{ID: "f1", DisplayName: "Inbox"},
	})
	coord.cache.SetMessages(testAccount, "f1", []model.MessageSummary{
		{ID: "m1", Folder: "f1"},
	}, "", 1)

	require.NoError(t, coord.Activate(
		context.Background(), testAccount, channel.Credentials{},
	))
	awaitUpdate[FoldersUpdate](t, coord)
	upd := awaitUpdate[MessagesUpdate](t, coord)
	assert.Equal(t, "f1", upd.FolderID)

	// Fresh cache entries mean no fetch traffic at all.
	conn := ft.Conn(0)
	assert.Empty(t, conn.SentNamed(channel.EventGetFolders))
	assert.Empty(t, conn.SentNamed(channel.EventGetFolderPage))
}

func TestPageMergeIsIdempotent(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	page2 := channel.FolderPagePayload{
		FolderID: "f1",
		Page:     2,
		Messages: []model.MessageSummary{
			{ID: "m3", Folder: "f1", Subject: "third"},
			{ID: "m4", Folder: "f1", Subject: "fourth"},
		},
		NextPageToken: "tok3",
	}

	conn.Deliver(t, channel.EventFolderPage, page2)
	awaitUpdate[MessagesUpdate](t, coord)
	conn.Deliver(t, channel.EventFolderPage, page2)
	awaitUpdate[MessagesUpdate](t, coord)

	page, ok := coord.cache.GetMessages(testAccount, "f1")
	require.True(t, ok)
	require.Len(t, page.Messages, 4, "duplicate event must not duplicate messages")

	ids := map[string]int{}
	for _, m := range page.Messages {
		ids[m.ID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, "message %s appears %d times", id, n)
	}
}

func TestDuplicateIDReplacesInPlace(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	// m2 arrives again on page 2 with new content: it must replace the
	// old object at its original position, not append.
	conn.Deliver(t, channel.EventFolderPage, channel.FolderPagePayload{
		FolderID: "f1",
		Page:     2,
		Messages: []model.MessageSummary{
			{ID: "m2", Folder: "f1", Subject: "second, revised"},
			{ID: "m3", Folder: "f1", Subject: "third"},
		},
	})
	awaitUpdate[MessagesUpdate](t, coord)

	page, _ := coord.cache.GetMessages(testAccount, "f1")
	require.Len(t, page.Messages, 3)
	assert.Equal(t, "m2", page.Messages[1].ID)
	assert.Equal(t, "second, revised", page.Messages[1].Subject)
	assert.Equal(t, "m3", page.Messages[2].ID)
}

func TestPageOneReplacesAfterOutOfOrderPageTwo(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	// Wipe the entry so page 2 arrives against a cold cache.
	coord.cache.Clear(testAccount)
	coord.cache.SetFolders(testAccount, []model.Folder{
		{ID: "f1", DisplayName: "Inbox"},
	})

	conn.Deliver(t, channel.EventFolderPage, channel.FolderPagePayload{
		FolderID: "f1", Page: 2,
		Messages:      []model.MessageSummary{{ID: "m3", Folder: "f1"}},
		NextPageToken: "tok3",
	})
	awaitUpdate[MessagesUpdate](t, coord)

	conn.Deliver(t, channel.EventFolderPage, channel.FolderPagePayload{
		FolderID: "f1", Page: 1,
		Messages: []model.MessageSummary{
			{ID: "m1", Folder: "f1"}, {ID: "m2", Folder: "f1"},
		},
		NextPageToken: "tok2",
	})
	awaitUpdate[MessagesUpdate](t, coord)

	page, ok := coord.cache.GetMessages(testAccount, "f1")
	require.True(t, ok)
	require.Len(t, page.Messages, 2, "page 1 always replaces")
	assert.Equal(t, "m1", page.Messages[0].ID)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, "tok2", page.NextPageToken)
}

func TestStalePageEventIsDropped(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	// A late reply for a folder that is not active anymore.
	conn.Deliver(t, channel.EventFolderPage, channel.FolderPagePayload{
		FolderID: "f2", Page: 1,
		Messages: []model.MessageSummary{{ID: "m9", Folder: "f2"}},
	})
	conn.Deliver(t, channel.EventSyncComplete, nil)
	awaitUpdate[SyncedUpdate](t, coord)

	_, ok := coord.cache.GetMessages(testAccount, "f2")
	assert.False(t, ok, "stale page must not populate the cache")
}

func TestLoadNextPageAdvancesFrontier(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	coord.LoadNextPage()
	waitForSent(t, conn, channel.EventGetFolderPage, 2)

	reqs := conn.SentNamed(channel.EventGetFolderPage)
	var req channel.GetFolderPagePayload
	require.NoError(t, json.Unmarshal(reqs[1].Payload, &req))
	assert.Equal(t, "f1", req.FolderID)
	assert.Equal(t, 2, req.Page)
}

func TestLoadNextPageStopsAtExhaustedFrontier(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	conn.Deliver(t, channel.EventFolderPage, channel.FolderPagePayload{
		FolderID: "f1", Page: 2,
		Messages:      []model.MessageSummary{{ID: "m3", Folder: "f1"}},
		NextPageToken: "",
	})
	awaitUpdate[MessagesUpdate](t, coord)

	coord.LoadNextPage()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, conn.SentNamed(channel.EventGetFolderPage), 1,
		"no request past a nil continuation token")
}

func TestMarkReadOptimisticThenRollback(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	require.NoError(t, coord.MarkRead("m1"))

	// Optimistic state: read flag set, unread counter decremented.
	page, _ := coord.cache.GetMessages(testAccount, "f1")
	assert.True(t, page.Messages[0].Read)
	assert.Equal(t, 0, folderByID(t, coord, "f1").UnreadItemCount)
	waitForSent(t, conn, channel.EventMarkRead, 1)

	// The server rejects the mutation: restore read=false and the counter.
	conn.Deliver(t, channel.EventError, channel.ErrorPayload{
		Op: channel.EventMarkRead, MessageID: "m1", Message: "mark read failed",
	})
	notice := awaitUpdate[NoticeUpdate](t, coord)
	assert.Equal(t, "mark read failed", notice.Message)

	waitFor(t, func() bool {
		page, _ := coord.cache.GetMessages(testAccount, "f1")
		return !page.Messages[0].Read
	}, "read flag rolled back")
	assert.Equal(t, 1, folderByID(t, coord, "f1").UnreadItemCount)
}

func TestMarkReadConfirmationIsNoop(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	require.NoError(t, coord.MarkRead("m1"))
	conn.Deliver(t, channel.EventMessageRead, channel.MessageReadPayload{
		MessageID: "m1",
	})
	conn.Deliver(t, channel.EventSyncComplete, nil)
	awaitUpdate[SyncedUpdate](t, coord)

	// Confirmed value equals the optimistic one; nothing double-applies.
	page, _ := coord.cache.GetMessages(testAccount, "f1")
	assert.True(t, page.Messages[0].Read)
	assert.Equal(t, 0, folderByID(t, coord, "f1").UnreadItemCount)
}

func TestServerInitiatedReadChange(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	// No local mutation pending: another device read m1.
	conn.Deliver(t, channel.EventMessageRead, channel.MessageReadPayload{
		MessageID: "m1",
	})
	awaitUpdate[MessagesUpdate](t, coord)

	page, _ := coord.cache.GetMessages(testAccount, "f1")
	assert.True(t, page.Messages[0].Read)
	assert.Equal(t, 0, folderByID(t, coord, "f1").UnreadItemCount)
}

func TestMarkImportantServerValueWins(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	require.NoError(t, coord.MarkImportant("m1", true))
	awaitUpdate[MessagesUpdate](t, coord)
	page, _ := coord.cache.GetMessages(testAccount, "f1")
	assert.True(t, page.Messages[0].Important)

	// The confirmation carries a different flag; the server is
	// authoritative.
	conn.Deliver(t, channel.EventImportantChanged, channel.ImportantChangedPayload{
		MessageID: "m1", Flag: false,
	})
	awaitUpdate[MessagesUpdate](t, coord)

	page, _ = coord.cache.GetMessages(testAccount, "f1")
	assert.False(t, page.Messages[0].Important)
}

func TestDeleteOptimisticThenRollback(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	require.NoError(t, coord.DeleteMessage("m1"))

	page, _ := coord.cache.GetMessages(testAccount, "f1")
	require.Len(t, page.Messages, 1)
	f1 := folderByID(t, coord, "f1")
	assert.Equal(t, 1, f1.TotalItemCount)
	assert.Equal(t, 0, f1.UnreadItemCount)

	conn.Deliver(t, channel.EventError, channel.ErrorPayload{
		Op: channel.EventDeleteMessage, MessageID: "m1", Message: "delete failed",
	})
	awaitUpdate[NoticeUpdate](t, coord)

	waitFor(t, func() bool {
		page, _ := coord.cache.GetMessages(testAccount, "f1")
		return len(page.Messages) == 2
	}, "deleted message restored")

	page, _ = coord.cache.GetMessages(testAccount, "f1")
	assert.Equal(t, "m1", page.Messages[0].ID, "restored at its old position")
	f1 = folderByID(t, coord, "f1")
	assert.Equal(t, 2, f1.TotalItemCount)
	assert.Equal(t, 1, f1.UnreadItemCount)
}

func TestDeleteConfirmationDoesNotDoubleApply(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	require.NoError(t, coord.DeleteMessage("m1"))
	conn.Deliver(t, channel.EventMessageDeleted, channel.MessageDeletedPayload{
		MessageID: "m1",
	})
	conn.Deliver(t, channel.EventSyncComplete, nil)
	awaitUpdate[SyncedUpdate](t, coord)

	page, _ := coord.cache.GetMessages(testAccount, "f1")
	assert.Len(t, page.Messages, 1)
	f1 := folderByID(t, coord, "f1")
	assert.Equal(t, 1, f1.TotalItemCount, "counters decremented exactly once")
	assert.Equal(t, 0, f1.UnreadItemCount)
}

func TestErrorWithoutSnapshotFallsBackToRefetch(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	conn.Deliver(t, channel.EventError, channel.ErrorPayload{
		Op: channel.EventMarkRead, MessageID: "m9", Message: "unknown message",
	})
	awaitUpdate[NoticeUpdate](t, coord)

	// No pre-mutation state retained: recovery is a page-1 refetch.
	waitForSent(t, conn, channel.EventGetFolderPage, 2)
}

func TestPushNewMessageToActiveFolder(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	conn.Deliver(t, channel.EventNewMessage, channel.NewMessagePayload{
		Message: model.MessageSummary{
			ID: "m0", Folder: "f1", Subject: "fresh", Read: false,
		},
	})
	awaitUpdate[MessagesUpdate](t, coord)

	page, _ := coord.cache.GetMessages(testAccount, "f1")
	require.Len(t, page.Messages, 3)
	assert.Equal(t, "m0", page.Messages[0].ID, "pushed message is prepended")

	f1 := folderByID(t, coord, "f1")
	assert.Equal(t, 3, f1.TotalItemCount)
	assert.Equal(t, 2, f1.UnreadItemCount)
}

func TestPushNewMessageToInactiveFolderOnlyBumpsCounters(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	conn.Deliver(t, channel.EventNewMessage, channel.NewMessagePayload{
		Message: model.MessageSummary{
			ID: "m0", Folder: "f2", Read: false,
		},
	})
	awaitUpdate[FoldersUpdate](t, coord)

	f2 := folderByID(t, coord, "f2")
	assert.Equal(t, 6, f2.TotalItemCount)
	assert.Equal(t, 3, f2.UnreadItemCount)

	// The list itself stays lazy until the folder is visited.
	_, ok := coord.cache.GetMessages(testAccount, "f2")
	assert.False(t, ok)
}

func TestReadNewMessageDoesNotBumpUnread(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	conn.Deliver(t, channel.EventNewMessage, channel.NewMessagePayload{
		Message: model.MessageSummary{
			ID: "m0", Folder: "f1", Read: true,
		},
	})
	awaitUpdate[MessagesUpdate](t, coord)

	f1 := folderByID(t, coord, "f1")
	assert.Equal(t, 3, f1.TotalItemCount)
	assert.Equal(t, 1, f1.UnreadItemCount)
}

func TestEnrichmentAttachesMetadata(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	conn.Deliver(t, channel.EventEnrichmentStatus, channel.EnrichmentStatusPayload{
		MessageID: "m1",
		Status:    "complete",
		Meta:      map[string]string{"category": "travel"},
	})
	awaitUpdate[MessagesUpdate](t, coord)

	page, _ := coord.cache.GetMessages(testAccount, "f1")
	assert.Equal(t, "travel", page.Messages[0].Meta["category"])
}

func TestMessageDetailIsDeliveredNotCached(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	require.NoError(t, coord.FetchDetail("m1"))
	waitForSent(t, conn, channel.EventGetMessageDetail, 1)

	conn.Deliver(t, channel.EventMessageDetail, channel.MessageDetailPayload{
		Detail: model.MessageDetail{
			MessageSummary: model.MessageSummary{ID: "m1", Folder: "f1"},
			TextBody:       "full body",
		},
	})
	upd := awaitUpdate[DetailUpdate](t, coord)
	assert.Equal(t, "full body", upd.Detail.TextBody)
}

func TestFetchTimeoutClearsLoadingState(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	coord.fetchTimeout = 30 * time.Millisecond

	require.NoError(t, coord.Activate(
		context.Background(), testAccount, channel.Credentials{},
	))
	_ = ft.Conn(0)

	// No reply arrives; the operation is abandoned, not retried.
	waitFor(t, func() bool {
		folders, _ := coord.Loading()
		return !folders
	}, "loading state cleared by timeout")

	_, ok := coord.cache.GetFolders(testAccount)
	assert.False(t, ok, "cache stays absent so the next access refetches")
}

func TestAccountSwitchKeepsCacheEntries(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	bootstrap(t, coord, ft)

	require.NoError(t, coord.OnAccountSwitch(
		context.Background(), "b@x.com", channel.Credentials{},
	))
	waitFor(t, func() bool { return ft.DialCount() == 2 }, "new connection dialed")

	// The first account's entries survive, keyed by account.
	_, ok := coord.cache.GetFolders(testAccount)
	assert.True(t, ok)
	_, ok = coord.cache.GetMessages(testAccount, "f1")
	assert.True(t, ok)

	// Coordinator state was reset for the new identity.
	assert.Equal(t, "", coord.ActiveFolder())

	// Switching back within the TTL serves the old entries without a
	// folder fetch.
	require.NoError(t, coord.OnAccountSwitch(
		context.Background(), testAccount, channel.Credentials{},
	))
	awaitUpdate[FoldersUpdate](t, coord)
	awaitUpdate[MessagesUpdate](t, coord)
	conn := ft.Conn(2)
	assert.Empty(t, conn.SentNamed(channel.EventGetFolders))
}

func TestAuthRejectionSurfacesAuthRequired(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	conn.Drop(&channel.AuthError{Account: testAccount, Message: "revoked"})

	upd := awaitUpdate[AuthRequiredUpdate](t, coord)
	assert.Equal(t, testAccount, upd.Account)
	assert.True(t, channel.IsAuthError(upd.Err))
}

func TestActivateAuthErrorPropagates(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	ft.QueueDialErrs(&channel.AuthError{Account: testAccount, Message: "bad token"})

	err := coord.Activate(
		context.Background(), testAccount, channel.Credentials{},
	)
	require.Error(t, err)
	assert.True(t, channel.IsAuthError(err))
}

func TestCounterInvariantHoldsUnderMutations(t *testing.T) {
	coord, ft := newTestCoordinator(t)
	conn := bootstrap(t, coord, ft)

	// Pile on mutations and events; counters must stay within bounds.
	require.NoError(t, coord.MarkRead("m1"))
	conn.Deliver(t, channel.EventMessageRead, channel.MessageReadPayload{MessageID: "m2"})
	require.NoError(t, coord.DeleteMessage("m2"))
	conn.Deliver(t, channel.EventNewMessage, channel.NewMessagePayload{
		Message: model.MessageSummary{ID: "m5", Folder: "f1", Read: false},
	})
	conn.Deliver(t, channel.EventSyncComplete, nil)
	awaitUpdate[SyncedUpdate](t, coord)

	for _, f := range []string{"f1", "f2"} {
		folder := folderByID(t, coord, f)
		assert.GreaterOrEqual(t, folder.UnreadItemCount, 0)
		assert.LessOrEqual(t, folder.UnreadItemCount, folder.TotalItemCount)
	}
}
