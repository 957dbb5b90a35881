package quip

import (
	"time"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/directory"
	"github.com/cbrunker/quip/file"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/server"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/transport"
)

// DefaultTCPPort is the default peer listening port.
const DefaultTCPPort = 22012

// Options contains configuration options for creating a Quip instance.
type Options struct {
	Verify            bool
	DownloadDirectory string
	MaxChunk          int
	BlockSize         int
	MaxFileSize       int64
	RequestExpiry     time.Duration
	FileExpiry        time.Duration

	Host               string
	TCPPort            int
	IdleTimeout        time.Duration
	MessageSkew        time.Duration
	SessionBoundChains bool
	UPnP               bool
	CertFile           string
	KeyFile            string

	DirectoryAddress string
	DataDirectory    string
	LogLevel         string

	// PeerDialer and DirectoryDialer replace the default TLS dialers.
	PeerDialer      transport.Dialer
	DirectoryDialer transport.Dialer
	TimeProvider    crypto.TimeProvider
}

// NewOptions creates a new default options.
func NewOptions() *Options {
	return &Options{
		Verify:            true,
		DownloadDirectory: "Downloads",
		MaxChunk:          file.DefaultMaxChunk,
		BlockSize:         file.DefaultBlockSize,
		RequestExpiry:     store.DefaultRequestExpiry,
		FileExpiry:        store.DefaultFileExpiry,
		TCPPort:           DefaultTCPPort,
		IdleTimeout:       server.DefaultIdleTimeout,
		MessageSkew:       limits.MessageSkew,
		UPnP:              true,
		DirectoryAddress:  directory.DefaultAddress,
		DataDirectory:     ".quip",
		LogLevel:          "info",
	}
}
