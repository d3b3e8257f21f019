package sync

import "github.com/nhle/mailcross/internal/model"

// Event is an outcome published by the Orchestrator.
type Event interface {
	Target() string
	CommandID() string
}

// Meta carries the fields shared by all events.
type Meta struct {
	Account string
	// Command is the ID returned by Submit for the originating command.
	Command string
}

func (m Meta) Target() string    { return m.Account }
func (m Meta) CommandID() string { return m.Command }

// Connected follows a successful Connect.
type Connected struct {
	Meta
}

// Disconnected follows every Disconnect.
type Disconnected struct {
	Meta
}

// ConnectionFailed reports any failed command. Reason is meant for
// display; Err keeps the typed cause.
type ConnectionFailed struct {
	Meta
	Reason string
	Err    error
}

// FoldersUpdated carries a freshly listed folder set.
type FoldersUpdated struct {
	Meta
	Folders []model.Folder
}

// EmailsUpdated carries the headers of one folder, newest first.
type EmailsUpdated struct {
	Meta
	Folder string
	Emails []model.Email
}

// EmailDeleted confirms a local removal.
type EmailDeleted struct {
	Meta
	ID uint32
}

// AccountAdded confirms an AddAccount.
type AccountAdded struct {
	Meta
	Account model.Account
}

// AccountRemoved confirms a RemoveAccount.
type AccountRemoved struct {
	Meta
}
