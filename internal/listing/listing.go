package listing

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/xerrors"
)

// ErrNotText is returned when the listing contains binary data.
var ErrNotText = xerrors.New("listing is not a text file")

const (
	infoMarker = "::INFO::"
	// maxLineLen bounds a single result line; longer lines are skipped.
	maxLineLen = 64 * 1024
)

// Entry is one file advertised in a search result listing.
type Entry struct {
	// Source is the command token of the bot serving the file, e.g. "!Bsk".
	Source   string `json:"source"`
	FileName string `json:"fileName"`
	Size     string `json:"size"`
	// Command is replayed verbatim to request the file. It and FileName hold
	// the advertised bytes, which need not be valid UTF-8.
	Command string `json:"command"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Format  string `json:"format"`
}

// LineError describes a line that was skipped.
type LineError struct {
	Line   int
	Text   string
	Reason string
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Parse reads a listing and returns its entries in file order.
// Lines that are not results are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	entries, _, err := ParseLines(r)
	return entries, err
}

// ParseLines is like Parse but also reports every skipped non-empty line.
func ParseLines(r io.Reader) ([]Entry, []LineError, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, xerrors.Errorf("reading listing: %w", err)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, nil, ErrNotText
	}

	var (
		entries []Entry
		skipped []LineError
	)

	for i, raw := range bytes.Split(data, []byte{'\n'}) {
		n := i + 1
		if len(raw) > maxLineLen {
			skipped = append(skipped, LineError{Line: n, Text: string(raw[:maxLineLen]), Reason: "line too long"})
			continue
		}
		line := strings.TrimRight(string(raw), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			skipped = append(skipped, LineError{Line: n, Text: line, Reason: err.Error()})
			continue
		}
		entries = append(entries, e)
	}

	return entries, skipped, nil
}

// ParseLine parses a single result line of the form
//
//	!Source Author - Title.ext ::INFO:: 1.2MB
func ParseLine(line string) (Entry, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "!") {
		return Entry{}, xerrors.New("not a result line")
	}

	idx := strings.Index(trimmed, infoMarker)
	if idx < 0 {
		return Entry{}, xerrors.New("missing size marker")
	}

	command := strings.TrimSpace(trimmed[:idx])
	source, file, ok := strings.Cut(command, " ")
	if !ok || len(source) < 2 {
		return Entry{}, xerrors.New("missing file name")
	}
	file = strings.TrimSpace(file)
	if file == "" {
		return Entry{}, xerrors.New("missing file name")
	}

	info := strings.Fields(trimmed[idx+len(infoMarker):])
	if len(info) == 0 {
		return Entry{}, xerrors.New("missing size")
	}

	title, author, format := DescribeFile(file)
	if format == "" {
		return Entry{}, xerrors.New("file name has no extension")
	}

	return Entry{
		Source:   source,
		FileName: file,
		Size:     info[0],
		Command:  command,
		Title:    strings.ToValidUTF8(title, "\uFFFD"),
		Author:   strings.ToValidUTF8(author, "\uFFFD"),
		Format:   format,
	}, nil
}

// DescribeFile derives a title, author and format from a file name such as
// "Frank Herbert - Dune.epub". The author is empty when the name has no
// " - " separator.
func DescribeFile(name string) (title, author, format string) {
	ext := path.Ext(name)
	if ext == name || strings.ContainsAny(ext, " ") {
		ext = ""
	}
	format = strings.ToLower(strings.TrimPrefix(ext, "."))
	base := strings.TrimSpace(strings.TrimSuffix(name, ext))

	if a, t, ok := strings.Cut(base, " - "); ok {
		author = strings.TrimSpace(a)
		title = strings.TrimSpace(t)
	} else {
		title = base
	}
	if title == "" {
		title, author = author, ""
	}
	return title, author, format
}
