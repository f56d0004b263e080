// Package outputfmt massages raw node stdout/stderr into text that
// Discord will render the way the user intended.
package outputfmt

import (
	"regexp"
	"strings"
)

// backticksZWS looks like a triple backtick from a distance, but the
// zero-width spaces between the characters keep it from closing a
// Discord code block.
const backticksZWS = "`​`​`"

// EscapeBackticks breaks up any literal triple-backtick run in s so it
// can't prematurely close a surrounding Discord code block. Applying it
// twice is the same as applying it once: there is no ``` left in the
// output for the second pass to find.
func EscapeBackticks(s string) string {
	return strings.ReplaceAll(s, "```", backticksZWS)
}

const fastfetchSep = "===snip==="

var (
	reLeadingPrivateMode  = regexp.MustCompile(`^\x1b\[\?\d+[hl]`)
	reTrailingPrivateMode = regexp.MustCompile(`\x1b\[\?\d+[hl]$`)
	reCursorHome          = regexp.MustCompile(`(?s)\x1b\[19A\x1b\[9999999D.*$`)
	reNonColorCSI         = regexp.MustCompile(`\x1b\[[0-9;]*[A-HJKST]`)
	reColorCode           = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	reColorCodeCapture    = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	reOSC8                = regexp.MustCompile(`(?s)\x1b]8;;.*?\x1b\\/`)
	reLineStartColor      = regexp.MustCompile(`^\s*\x1b\[[0-9;]*m`)
)

// FastfetchFilter rearranges the two-pane output of fastfetch/neofetch
// (ASCII-art logo on the left, separated from the info block by a
// fastfetchSep marker) into lines Discord can show side by side,
// stripping the cursor-positioning escapes that make sense on a real
// terminal but garbage up a chat message.
//
// Ported from the gridbot fastfetch_filter, which in turn credits a
// prototype from Techflash.
func FastfetchFilter(s string) string {
	var logo, info string
	if idx := strings.Index(s, fastfetchSep); idx >= 0 {
		logo = s[:idx]
		info = s[idx+len(fastfetchSep):]
	} else {
		logo = s
	}

	logo = reLeadingPrivateMode.ReplaceAllString(logo, "")
	logo = reTrailingPrivateMode.ReplaceAllString(logo, "")
	logo = reCursorHome.ReplaceAllString(logo, "")
	logo = reNonColorCSI.ReplaceAllString(logo, "")
	logo = strings.TrimRight(logo, " \t\r\n")

	if info != "" {
		info = reLeadingPrivateMode.ReplaceAllString(info, "")
		info = reTrailingPrivateMode.ReplaceAllString(info, "")
		info = strings.TrimRight(info, " \t\r\n")
		info = reNonColorCSI.ReplaceAllString(info, "")
	}

	if info == "" {
		return logo
	}

	logoLines := strings.Split(logo, "\n")
	infoLines := strings.Split(info, "\n")

	maxLogoWidth := 0
	for _, line := range logoLines {
		stripped := reColorCode.ReplaceAllString(line, "")
		if len(stripped) > maxLogoWidth {
			maxLogoWidth = len(stripped)
		}
	}

	n := len(logoLines)
	if len(infoLines) > n {
		n = len(infoLines)
	}

	var out []string
	lastColor := ""
	for i := 0; i < n; i++ {
		logoPart := ""
		if i < len(logoLines) {
			logoPart = logoLines[i]
		}
		infoPart := ""
		if i < len(infoLines) {
			infoPart = infoLines[i]
		}

		codes := reColorCodeCapture.FindAllString(logoPart, -1)
		if len(codes) > 0 {
			if codes[0] != "\x1b[0m" || len(codes) != 1 {
				lastColor = strings.Join(codes, "")
			}
		}

		if i != 0 && !reLineStartColor.MatchString(logoPart) {
			logoPart = lastColor + logoPart
		}

		strippedLen := len(reColorCode.ReplaceAllString(logoPart, ""))
		pad := maxLogoWidth - strippedLen + 4
		if pad < 0 {
			pad = 0
		}
		combined := logoPart + strings.Repeat(" ", pad) + infoPart

		combined = strings.ReplaceAll(combined, "\x1b[?25l", "")
		combined = strings.ReplaceAll(combined, "\x1b[?25h", "")
		combined = strings.ReplaceAll(combined, "\x1b[?7l", "")
		combined = strings.ReplaceAll(combined, "\x1b[m", "\x1b[0m")
		combined = strings.ReplaceAll(combined, "\x1b[0m\x1b[0m", "\x1b[0m")
		for c := 0; c <= 7; c++ {
			bright := "\x1b[9" + string(rune('0'+c)) + "m"
			normal := "\x1b[1m\x1b[3" + string(rune('0'+c)) + "m"
			combined = strings.ReplaceAll(combined, bright, normal)
		}
		combined = reOSC8.ReplaceAllString(combined, "/")
		combined = strings.ReplaceAll(combined, "\x1b]8;;\x1b\\", "")

		combined = EscapeBackticks(combined)
		combined = strings.TrimRight(combined, " ")
		combined = strings.TrimSuffix(combined, "\x1b[0m")

		out = append(out, combined)
	}

	return strings.Join(out, "\n")
}
