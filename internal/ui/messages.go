package ui

import (
	"github.com/bjarneo/shelfie/internal/client"
	"github.com/bjarneo/shelfie/internal/core"
	"github.com/bjarneo/shelfie/internal/listing"
)

// --- Bubbletea Messages ---

type (
	ConnectedMsg         struct{}
	ConnectFailedMsg     struct{ Err error }
	SessionEventMsg      struct{ Event core.Event }
	FileTransferProgress float64
	InfoMsg              struct{ Info string }
	ErrorMsg             struct{ Err error }
)

type SearchDoneMsg struct {
	Query   string
	Entries []listing.Entry
	Err     error
}

type DownloadDoneMsg struct {
	Entry    listing.Entry
	Delivery client.Delivery
	Err      error
}
