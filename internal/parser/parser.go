// Package parser extracts transaction facts from Bancolombia transfer SMS
// notifications. It is pure: no I/O, no panics, all failure expressed in the
// returned fact.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/juancadavidc/bank-deposits/internal/domain"
)

// The single accepted template. Capture groups are deliberately loose so a
// structurally sound message with a bad field (amount "0", time "25:00",
// date 29/02 in a non-leap year) reaches field validation and gets a
// specific reason instead of a blanket pattern_mismatch.
var transferPattern = regexp.MustCompile(
	`^Bancolombia: Recibiste una transferencia por \$([0-9][0-9,]*) de (.*?) en tu cuenta \*\*([0-9]{4}) el ([0-9]{1,2})/([0-9]{1,2})/([0-9]{4}) a las ([0-9]{1,2}):([0-9]{2})\.?$`,
)

// Parse matches rawText against the transfer template and validates each
// field in order: amount, sender, suffix, date, time. The first failing
// check wins; later checks never run.
func Parse(rawText string) domain.ParsedFact {
	m := transferPattern.FindStringSubmatch(strings.TrimSpace(rawText))
	if m == nil {
		return failed(domain.ReasonPatternMismatch)
	}

	amount, ok := parseAmount(m[1])
	if !ok {
		return failed(domain.ReasonInvalidAmount)
	}

	sender := strings.TrimSpace(m[2])
	if sender == "" {
		return failed(domain.ReasonEmptySender)
	}

	suffix, ok := maskSuffix(m[3])
	if !ok {
		return failed(domain.ReasonPatternMismatch)
	}

	occurredOn, ok := parseDate(m[4], m[5], m[6])
	if !ok {
		return failed(domain.ReasonInvalidDate)
	}

	occurredAt, ok := parseClock(m[7], m[8])
	if !ok {
		return failed(domain.ReasonInvalidTime)
	}

	return domain.ParsedFact{
		Success:       true,
		Amount:        amount,
		SenderName:    sender,
		AccountSuffix: suffix,
		OccurredOn:    occurredOn,
		OccurredAt:    occurredAt,
	}
}

func failed(reason domain.FailureReason) domain.ParsedFact {
	return domain.ParsedFact{Success: false, FailureReason: reason}
}

// parseAmount strips grouping commas and requires a strictly positive
// integer amount.
func parseAmount(s string) (int64, bool) {
	cleaned := strings.ReplaceAll(s, ",", "")
	amount, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil || amount <= 0 {
		return 0, false
	}
	return amount, true
}

// maskSuffix confirms the suffix shape the template already guarantees and
// prepends the masking marker.
func maskSuffix(digits string) (string, bool) {
	if len(digits) != 4 {
		return "", false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return "**" + digits, true
}

// parseDate takes day-first components, range-checks them, then rebuilds the
// calendar date and compares it back. time.Date normalizes overflow (Feb 30
// becomes Mar 2); a mismatch after the round trip means the original date
// never existed and must be rejected, not silently shifted.
func parseDate(dayStr, monthStr, yearStr string) (time.Time, bool) {
	day, _ := strconv.Atoi(dayStr)
	month, _ := strconv.Atoi(monthStr)
	year, _ := strconv.Atoi(yearStr)

	if day < 1 || day > 31 || month < 1 || month > 12 || year < 1900 {
		return time.Time{}, false
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || d.Month() != time.Month(month) || d.Year() != year {
		return time.Time{}, false
	}
	return d, true
}

func parseClock(hourStr, minuteStr string) (string, bool) {
	hour, _ := strconv.Atoi(hourStr)
	minute, _ := strconv.Atoi(minuteStr)
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}
