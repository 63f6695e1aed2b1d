package listing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `Search results from SearchBot v3.00.07 by Ook, searching dll written by Ook
Searched 8 files for "dune" returned 5 matches in 0.2 seconds.

!Bsk Frank Herbert - Dune.epub  ::INFO:: 1.2MB
this line is garbage
!DV8 Frank Herbert - Dune Messiah (retail).epub ::INFO:: 580.5KB ::HASH:: 9f1c
!Oatmeal Brian Herbert - Dune - House Atreides.mobi ::INFO:: 2.1MB
!Broken no info marker here.epub
!Xyz Dune Encyclopedia.pdf ::INFO:: 14.0MB
!Pondering42 Frank Herbert - Children of Dune.azw3	::INFO:: 900KB
`

func TestParseKeepsOrderAndSkipsMalformed(t *testing.T) {
	entries, skipped, err := ParseLines(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, entries, 5)

	require.Equal(t, []string{"!Bsk", "!DV8", "!Oatmeal", "!Xyz", "!Pondering42"},
		[]string{entries[0].Source, entries[1].Source, entries[2].Source, entries[3].Source, entries[4].Source})

	// two header lines, the garbage line and the line without a size marker
	require.Len(t, skipped, 4)
	require.Equal(t, 8, skipped[3].Line)
}

func TestParseLineFields(t *testing.T) {
	e, err := ParseLine("!DV8 Frank Herbert - Dune Messiah (retail).epub ::INFO:: 580.5KB ::HASH:: 9f1c")
	require.NoError(t, err)
	require.Equal(t, Entry{
		Source:   "!DV8",
		FileName: "Frank Herbert - Dune Messiah (retail).epub",
		Size:     "580.5KB",
		Command:  "!DV8 Frank Herbert - Dune Messiah (retail).epub",
		Title:    "Dune Messiah (retail)",
		Author:   "Frank Herbert",
		Format:   "epub",
	}, e)
}

func TestParseLineCommandIsVerbatim(t *testing.T) {
	line := "!Bsk  Frank   Herbert -  Dune [x].EPUB ::INFO:: 1MB"
	e, err := ParseLine(line)
	require.NoError(t, err)
	require.Equal(t, "!Bsk  Frank   Herbert -  Dune [x].EPUB", e.Command)
	require.Equal(t, "epub", e.Format)
}

func TestParseLineWithoutAuthor(t *testing.T) {
	e, err := ParseLine("!Xyz Dune Encyclopedia.pdf ::INFO:: 14.0MB")
	require.NoError(t, err)
	require.Equal(t, "Dune Encyclopedia", e.Title)
	require.Empty(t, e.Author)
	require.Equal(t, "pdf", e.Format)
}

func TestParseLineRejects(t *testing.T) {
	for _, line := range []string{
		"",
		"Searched 8 files",
		"! ::INFO:: 1MB",
		"!Bsk ::INFO:: 1MB",
		"!Bsk Some Book.epub ::INFO::",
		"!Bsk Some Book ::INFO:: 1MB",
	} {
		_, err := ParseLine(line)
		require.Error(t, err, line)
	}
}

func TestParseRejectsBinary(t *testing.T) {
	_, err := Parse(strings.NewReader("PK\x03\x04\x00\x00binary"))
	require.ErrorIs(t, err, ErrNotText)
}

func TestParseKeepsAdvertisedBytes(t *testing.T) {
	entries, err := Parse(strings.NewReader("!Bsk Caf\xe9 - Book.epub ::INFO:: 1MB\r\n"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	require.Equal(t, "!Bsk Caf\xe9 - Book.epub", e.Command)
	require.Equal(t, "Caf\xe9 - Book.epub", e.FileName)
	require.Equal(t, "Caf\uFFFD", e.Author)
	require.Equal(t, "Book", e.Title)
}

func TestParseSkipsOversizedLine(t *testing.T) {
	input := "!Bsk A - One.epub ::INFO:: 1MB\n" +
		strings.Repeat("x", 2<<20) + "\n" +
		"!Bsk B - Two.epub ::INFO:: 2MB\n"

	entries, skipped, err := ParseLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "One", entries[0].Title)
	require.Equal(t, "Two", entries[1].Title)
	require.Len(t, skipped, 1)
	require.Equal(t, 2, skipped[0].Line)
	require.Equal(t, "line too long", skipped[0].Reason)
}

func TestDescribeFile(t *testing.T) {
	title, author, format := DescribeFile("Brian Herbert - Dune - House Atreides.mobi")
	require.Equal(t, "Dune - House Atreides", title)
	require.Equal(t, "Brian Herbert", author)
	require.Equal(t, "mobi", format)
}
