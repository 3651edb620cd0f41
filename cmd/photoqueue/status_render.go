package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiGray   = "\x1b[90m"
)

const statusLabelWidth = 16

var titleCaser = cases.Title(language.Und)

// statusLabel renders a task status such as "uploading" as "Uploading".
func statusLabel(status string) string {
	return titleCaser.String(strings.ReplaceAll(strings.TrimSpace(status), "_", " "))
}

func statusColor(status string) string {
	switch status {
	case "succeeded":
		return ansiGreen
	case "failed":
		return ansiRed
	case "uploading":
		return ansiBlue
	case "queued":
		return ansiYellow
	case "canceled":
		return ansiGray
	default:
		return ""
	}
}

func colorizeStatus(status string, colorize bool) string {
	label := statusLabel(status)
	if !colorize {
		return label
	}
	if color := statusColor(status); color != "" {
		return color + label + ansiReset
	}
	return label
}

func renderKeyValue(label, value string) string {
	return fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", value)
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatBytes(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.Bytes(uint64(size))
}

func formatAge(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return humanize.Time(ts)
}

func formatProgress(fraction float64) string {
	if fraction <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", fraction*100)
}

// shortID trims a task UUID to its first block for tables.
func shortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	return id
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
