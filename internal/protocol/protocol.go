package protocol

import (
	"net"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// --- Protocol Definition ---

const (
	// CTCPDelim frames client-to-client messages inside PRIVMSG and NOTICE.
	CTCPDelim = "\x01"

	DefaultSearchPrefix = "@search"
	DefaultListingExt   = ".txt"
)

// Offer describes an inbound DCC SEND.
type Offer struct {
	FileName string `json:"fileName"`
	Size     int64  `json:"fileSize"`
	Peer     string `json:"peer,omitempty"`
	IP       net.IP `json:"ip"`
	Port     int    `json:"port"`
}

// Addr returns the host:port the sender listens on.
func (o Offer) Addr() string {
	return net.JoinHostPort(o.IP.String(), strconv.Itoa(o.Port))
}

// IsArchive reports whether the offered file is a zip archive.
func (o Offer) IsArchive() bool {
	return strings.EqualFold(fileExt(o.FileName), ".zip")
}

// IsCTCP reports whether a message body is a CTCP request.
func IsCTCP(text string) bool {
	return len(text) >= 2 && strings.HasPrefix(text, CTCPDelim) && strings.HasSuffix(text, CTCPDelim)
}

// CTCP frames a CTCP message.
func CTCP(body string) string {
	return CTCPDelim + body + CTCPDelim
}

// ParseCTCP splits a CTCP message into its command and arguments.
func ParseCTCP(text string) (command, args string, ok bool) {
	if !IsCTCP(text) {
		return "", "", false
	}
	body := strings.Trim(text, CTCPDelim)
	command, args, _ = strings.Cut(body, " ")
	return strings.ToUpper(command), args, command != ""
}

// ParseDCCSend parses a CTCP "DCC SEND <file> <ip> <port> <size>" request. The
// file name may be quoted and contain spaces. The ip is either a decimal
// uint32 or a literal address.
func ParseDCCSend(peer, text string) (Offer, error) {
	command, args, ok := ParseCTCP(text)
	if !ok || command != "DCC" {
		return Offer{}, xerrors.New("not a DCC request")
	}

	kind, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	if !strings.EqualFold(kind, "SEND") {
		return Offer{}, xerrors.Errorf("unsupported DCC request %q", kind)
	}

	name, rest, err := splitFileName(strings.TrimSpace(rest))
	if err != nil {
		return Offer{}, err
	}

	fields := strings.Fields(rest)
	if len(fields) < 3 {
		return Offer{}, xerrors.Errorf("DCC SEND for %q has %d fields, want ip port size", name, len(fields))
	}

	ip, err := parseIP(fields[0])
	if err != nil {
		return Offer{}, err
	}

	port, err := strconv.Atoi(fields[1])
	if err != nil || port <= 0 || port > 65535 {
		return Offer{}, xerrors.Errorf("invalid DCC port %q", fields[1])
	}

	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || size < 0 {
		return Offer{}, xerrors.Errorf("invalid DCC size %q", fields[2])
	}

	return Offer{FileName: name, Size: size, Peer: peer, IP: ip, Port: port}, nil
}

func splitFileName(s string) (name, rest string, err error) {
	if strings.HasPrefix(s, `"`) {
		end := strings.Index(s[1:], `"`)
		if end < 0 {
			return "", "", xerrors.New("unterminated quoted file name")
		}
		return s[1 : end+1], s[end+2:], nil
	}

	// Unquoted names may still contain spaces; the last three fields are
	// always ip, port and size.
	fields := strings.Fields(s)
	if len(fields) < 4 {
		return "", "", xerrors.New("DCC SEND is missing fields")
	}
	return strings.Join(fields[:len(fields)-3], " "), strings.Join(fields[len(fields)-3:], " "), nil
}

func parseIP(s string) (net.IP, error) {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n)), nil
	}
	if ip := net.ParseIP(s); ip != nil {
		return ip, nil
	}
	return nil, xerrors.Errorf("invalid DCC address %q", s)
}

// SearchCommand builds the channel message that asks the search bot for a
// listing.
func SearchCommand(prefix, query string) string {
	if prefix == "" {
		prefix = DefaultSearchPrefix
	}
	return prefix + " " + strings.TrimSpace(query)
}

// IsNoMatchNotice reports whether a notice from the search bot says a search
// returned nothing.
func IsNoMatchNotice(text string) bool {
	lower := strings.ToLower(text)
	i := strings.Index(lower, "your search for ")
	return i >= 0 && strings.Contains(lower[i:], " returned no matches")
}

func fileExt(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i:]
}
