package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"squish/internal/preflight"
)

type lineKind int

const (
	lineInfo lineKind = iota
	lineOK
	lineWarn
	lineError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	labelWidth = 22
	lineIndent = "  "
)

func renderLine(label string, kind lineKind, message string, colorize bool) string {
	tag := fmt.Sprintf("[%s]", kindLabel(kind))
	if message != "" {
		tag += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", lineIndent, labelWidth, label+":", tag)
	if colorize {
		if color := kindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func kindLabel(kind lineKind) string {
	switch kind {
	case lineOK:
		return "OK"
	case lineWarn:
		return "WARN"
	case lineError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func kindColor(kind lineKind) string {
	switch kind {
	case lineOK:
		return ansiGreen
	case lineWarn:
		return ansiYellow
	case lineError:
		return ansiRed
	case lineInfo:
		return ansiBlue
	default:
		return ""
	}
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

func renderCheck(result preflight.Result, colorize bool) string {
	kind := lineError
	if result.Passed {
		kind = lineOK
	}
	return renderLine(result.Name, kind, result.Detail, colorize)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
