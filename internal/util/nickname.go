package util

import (
	"fmt"
	"math/rand"
)

// GenerateRandomNickname generates a random nickname from a predefined list and appends a random tag.
// The result is a valid IRC nickname: letters and digits joined by an underscore.
func GenerateRandomNickname() string {
	names := []string{
		"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf", "Hotel", "India", "Juliett",
		"Kilo", "Lima", "Mike", "November", "Oscar", "Papa", "Quebec", "Romeo", "Sierra", "Tango",
		"Uniform", "Victor", "Whiskey", "Xray", "Yankee", "Zulu", "Reader", "Scribe", "Folio", "Quarto",
		"Codex", "Vellum", "Quill", "Margin", "Index", "Errata", "Gloss", "Verso", "Recto", "Colophon",
		"Archivist", "Bookworm", "Librarian", "Page", "Chapter", "Preface", "Epilogue", "Atlas", "Almanac",
		"Fenrir", "Sleipnir", "Ragnar", "Bjorn", "Floki", "Ivar", "Sigurd", "Skadi", "Hrafn", "Eirik",
	}
	name := names[rand.Intn(len(names))]
	tag := rand.Intn(9000) + 1000 // Generate a 4-digit number
	return fmt.Sprintf("%s_%d", name, tag)
}
