package textutil

import (
	"strings"
	"unicode"
)

// fileNameReplacer replaces characters that are unsafe on common library
// filesystems (including FAT-formatted external drives).
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// fallbackFileName is used when nothing usable is left of a name.
const fallbackFileName = "upload"

// SafeFileName turns a client-supplied file name into a single path element.
// Separators and FAT-reserved characters become dashes or are dropped,
// control characters are removed, and leading dots are stripped so the
// result is never hidden, "." or "..".
func SafeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(fileNameReplacer.Replace(name))
	name = strings.TrimLeft(name, ". ")
	if name == "" {
		return fallbackFileName
	}
	return name
}
