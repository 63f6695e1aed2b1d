package config

import (
	"encoding"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"

	"github.com/bjarneo/shelfie/internal/protocol"
	"github.com/bjarneo/shelfie/internal/util"
)

// EnvPrefix prefixes every environment override, e.g. SHELFIE_SESSION_CHANNEL.
const EnvPrefix = "SHELFIE"

// Config is the complete program configuration.
type Config struct {
	Session  Session
	Transfer Transfer
	Search   Search
	Server   Server
	Enrich   Enrich
}

// Session configures the chat connection.
type Session struct {
	Server   string
	TLS      bool
	Channel  string
	Nickname string
	// Version answers CTCP VERSION requests from bots.
	Version string

	MaxReconnects  int
	ReconnectDelay Duration
	ConnectTimeout Duration
	SendInterval   Duration
}

// Transfer configures inbound DCC transfers.
type Transfer struct {
	DownloadDir string
	IdleTimeout Duration
	DialTimeout Duration
	// MaxExtract bounds the bytes unpacked from one search archive.
	MaxExtract  int64
}

// Search configures how searches and downloads are requested.
type Search struct {
	Prefix          string
	ListingExt      string
	SearchTimeout   Duration
	DownloadTimeout Duration
}

// Server configures the HTTP API.
type Server struct {
	Listen string
}

// Enrich configures metadata lookups.
type Enrich struct {
	Enabled  bool
	Endpoint string
	Size     int
	TTL      Duration
	Timeout  Duration
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Session: Session{
			Server:         "irc.irchighway.net:6697",
			TLS:            true,
			Channel:        "#ebooks",
			Version:        "shelfie",
			MaxReconnects:  3,
			ReconnectDelay: Duration(5 * time.Second),
			ConnectTimeout: Duration(45 * time.Second),
			SendInterval:   Duration(2 * time.Second),
		},
		Transfer: Transfer{
			DownloadDir: "~/Downloads",
			IdleTimeout: Duration(60 * time.Second),
			DialTimeout: Duration(20 * time.Second),
			MaxExtract:  256 << 20,
		},
		Search: Search{
			Prefix:          protocol.DefaultSearchPrefix,
			ListingExt:      protocol.DefaultListingExt,
			SearchTimeout:   Duration(2 * time.Minute),
			DownloadTimeout: Duration(5 * time.Minute),
		},
		Server: Server{
			Listen: "127.0.0.1:5228",
		},
		Enrich: Enrich{
			Enabled:  true,
			Endpoint: "https://openlibrary.org/search.json",
			Size:     512,
			TTL:      Duration(24 * time.Hour),
			Timeout:  Duration(5 * time.Second),
		},
	}
}

// Load reads the TOML file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		p, err := homedir.Expand(path)
		if err != nil {
			return Config{}, xerrors.Errorf("expanding config path: %w", err)
		}
		if _, err := toml.DecodeFile(p, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, xerrors.Errorf("decoding config %s: %w", p, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, xerrors.Errorf("reading environment: %w", err)
	}

	return cfg, cfg.normalize()
}

func (c *Config) normalize() error {
	dir, err := homedir.Expand(c.Transfer.DownloadDir)
	if err != nil {
		return xerrors.Errorf("expanding download dir: %w", err)
	}
	c.Transfer.DownloadDir = dir

	if c.Session.Nickname == "" {
		c.Session.Nickname = util.GenerateRandomNickname()
	}
	if c.Search.Prefix == "" {
		c.Search.Prefix = protocol.DefaultSearchPrefix
	}
	if c.Search.ListingExt == "" {
		c.Search.ListingExt = protocol.DefaultListingExt
	}
	return c.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Session.Server == "":
		return xerrors.New("session server is required")
	case c.Session.Channel == "":
		return xerrors.New("session channel is required")
	case c.Session.MaxReconnects < 0:
		return xerrors.New("session max reconnects cannot be negative")
	case c.Session.ConnectTimeout <= 0:
		return xerrors.New("session connect timeout must be positive")
	case c.Transfer.DownloadDir == "":
		return xerrors.New("transfer download dir is required")
	case c.Transfer.IdleTimeout <= 0:
		return xerrors.New("transfer idle timeout must be positive")
	case c.Transfer.MaxExtract < 0:
		return xerrors.New("transfer max extract cannot be negative")
	case c.Search.SearchTimeout <= 0 || c.Search.DownloadTimeout <= 0:
		return xerrors.New("search and download timeouts must be positive")
	}
	return nil
}

// Write stores the configuration as TOML.
func Write(path string, cfg Config) error {
	p, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return xerrors.Errorf("creating config %s: %w", p, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return xerrors.Errorf("encoding config: %w", err)
	}
	return f.Close()
}

var _ encoding.TextMarshaler = (*Duration)(nil)
var _ encoding.TextUnmarshaler = (*Duration)(nil)

// Duration is a wrapper type for time.Duration
// for decoding and encoding from/to TOML
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return err
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}

// Std returns the value as a time.Duration.
func (dur Duration) Std() time.Duration {
	return time.Duration(dur)
}
