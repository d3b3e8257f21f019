package model

import (
	"fmt"
	"strings"
)

// Folder icons keyed by well-known mailbox names.
const (
	IconInbox   = "📥"
	IconSent    = "📤"
	IconDrafts  = "📝"
	IconJunk    = "🗑️"
	IconGeneric = "📁"
)

// PreviewPlaceholder is the body assigned to emails whose full content
// has not been loaded yet.
const PreviewPlaceholder = "(Email content preview...)"

// Account is a configured mail identity together with its last-known
// folders and messages. Email is the unique key.
type Account struct {
	Name     string
	Email    string
	Server   string
	Port     int
	UseTLS   bool
	StartTLS bool

	Connected bool
	Folders   []Folder
	Emails    []Email
}

// Clone returns a deep copy of the account so callers can never alias
// registry-owned slices.
func (a Account) Clone() Account {
	out := a
	out.Folders = CloneFolders(a.Folders)
	out.Emails = CloneEmails(a.Emails)
	return out
}

// HasServer reports whether a server host has been configured.
func (a Account) HasServer() bool {
	return strings.TrimSpace(a.Server) != ""
}

// Folder is an immutable snapshot of a server mailbox.
type Folder struct {
	Name  string
	Icon  string
	Count int

	// CountUnavailable is set when the folder was listed but its message
	// count could not be retrieved. Count is zero in that case.
	CountUnavailable bool
}

// NewFolder builds a folder with the icon chosen from its name.
func NewFolder(name string, count int) Folder {
	return Folder{Name: name, Icon: FolderIcon(name), Count: count}
}

// FolderIcon picks the display icon for a mailbox name. Matching is
// case-insensitive; unknown names get the generic folder icon.
func FolderIcon(name string) string {
	switch strings.ToUpper(name) {
	case "INBOX":
		return IconInbox
	case "SENT", "SENT ITEMS":
		return IconSent
	case "DRAFTS":
		return IconDrafts
	case "SPAM", "JUNK", "TRASH", "DELETED":
		return IconJunk
	default:
		return IconGeneric
	}
}

// DisplayName renders the folder for list views.
func (f Folder) DisplayName() string {
	switch {
	case f.CountUnavailable:
		return fmt.Sprintf("%s %s (?)", f.Icon, f.Name)
	case f.Count > 0:
		return fmt.Sprintf("%s %s (%d)", f.Icon, f.Name, f.Count)
	default:
		return fmt.Sprintf("%s %s", f.Icon, f.Name)
	}
}

// Email holds the header-level view of a message.
type Email struct {
	// ID is the server-assigned sequence number at fetch time. It is
	// unique within a folder but not stable across sessions.
	ID        uint32
	Sender    string
	Recipient string
	Subject   string
	Date      string
	Body      string
	Read      bool
	Selected  bool
}

// CloneFolders copies a folder slice. A nil input stays nil.
func CloneFolders(in []Folder) []Folder {
	if in == nil {
		return nil
	}
	out := make([]Folder, len(in))
	copy(out, in)
	return out
}

// CloneEmails copies an email slice. A nil input stays nil.
func CloneEmails(in []Email) []Email {
	if in == nil {
		return nil
	}
	out := make([]Email, len(in))
	copy(out, in)
	return out
}
