package sync

import "github.com/nhle/mailboxd/internal/model"

// Update is a state change emitted by the Coordinator for the
// presentation layer. The set of implementations is closed.
type Update interface {
	isUpdate()
}

// FoldersUpdate carries the current folder list for an account.
type FoldersUpdate struct {
	Account string
	Folders []model.Folder
}

// MessagesUpdate carries the merged, deduplicated message list for a
// folder together with its pagination frontier.
type MessagesUpdate struct {
	Account       string
	FolderID      string
	Messages      []model.MessageSummary
	NextPageToken string
	Page          int
}

// DetailUpdate delivers an on-demand message detail. Details are not
// cached; the consumer owns the value for as long as it needs it.
type DetailUpdate struct {
	Account string
	Detail  model.MessageDetail
}

// Severity classifies a notice.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// NoticeUpdate is a dismissible, non-blocking user-visible notice
// (request-level failures, "server unreachable").
type NoticeUpdate struct {
	Severity Severity
	Message  string
}

// AuthRequiredUpdate signals that the channel's credentials were
// rejected; the host must navigate to re-authentication.
type AuthRequiredUpdate struct {
	Account string
	Err     error
}

// SyncedUpdate signals that the server completed a sync pass for the
// account.
type SyncedUpdate struct {
	Account string
}

func (FoldersUpdate) isUpdate()      {}
func (MessagesUpdate) isUpdate()     {}
func (DetailUpdate) isUpdate()       {}
func (NoticeUpdate) isUpdate()       {}
func (AuthRequiredUpdate) isUpdate() {}
func (SyncedUpdate) isUpdate()       {}
