// Package loaderlog implements the SQL*Loader log processor: regex
// extraction of audit fields from semi-structured loader logs and the
// audit-row insert into the durable sink.
package loaderlog

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Load status values recorded in the audit row.
const (
	StatusSuccess             = "SUCCESS"
	StatusCompletedWithErrors = "COMPLETED_WITH_ERRORS"
	StatusError               = "ERROR"
)

// AuditInfo is the structured record extracted from one loader log.
type AuditInfo struct {
	LogFilename     string
	ControlFile     string
	DataFile        string
	TableName       string
	RecordsLoaded   int64
	RecordsRejected int64
	TotalRecords    int64
	LoadStatus      string
	ErrorDetails    string
	RunBegan        *time.Time
	RunEnded        *time.Time
}

var (
	controlFileRe = regexp.MustCompile(`(?im)^Control File:\s+(\S+)`)
	dataFileRe    = regexp.MustCompile(`(?im)^Data File:\s+(\S+)`)
	tableRe       = regexp.MustCompile(`(?im)^Table\s+"?([A-Za-z0-9_$.]+)"?[,:.\s]`)
	loadedRe      = regexp.MustCompile(`(?im)^\s*(\d+)\s+Rows?\s+successfully loaded`)
	rejectedRe    = regexp.MustCompile(`(?im)^\s*(\d+)\s+Rows?\s+not loaded due to data errors`)
	totalRe       = regexp.MustCompile(`(?im)^Total logical records read:\s+(\d+)`)
	beganRe       = regexp.MustCompile(`(?im)^Run began on\s+(.+?)\s*$`)
	endedRe       = regexp.MustCompile(`(?im)^Run ended on\s+(.+?)\s*$`)
	errorLineRe   = regexp.MustCompile(`(?m)SQL\*Loader-\d+:\s*.+`)
)

// dateLayouts are tried in order; unparsed timestamps stay nil.
var dateLayouts = []string{
	"Mon Jan 02 15:04:05 2006",
	"Mon Jan _2 15:04:05 2006",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
}

// Parse extracts the audit record from a loader log. The filename is
// recorded as-is; missing totals derive from loaded + rejected.
func Parse(filename, content string) AuditInfo {
	info := AuditInfo{LogFilename: filename}

	info.ControlFile = firstMatch(controlFileRe, content)
	info.DataFile = firstMatch(dataFileRe, content)
	info.TableName = firstMatch(tableRe, content)
	info.RecordsLoaded = firstInt(loadedRe, content)
	info.RecordsRejected = firstInt(rejectedRe, content)
	info.TotalRecords = firstInt(totalRe, content)
	info.RunBegan = parseDate(firstMatch(beganRe, content))
	info.RunEnded = parseDate(firstMatch(endedRe, content))

	if errs := errorLineRe.FindAllString(content, -1); len(errs) > 0 {
		info.ErrorDetails = strings.Join(errs, "; ")
	}

	if info.TotalRecords == 0 {
		info.TotalRecords = info.RecordsLoaded + info.RecordsRejected
	}

	switch {
	case info.ErrorDetails != "":
		info.LoadStatus = StatusError
	case info.RecordsRejected > 0:
		info.LoadStatus = StatusCompletedWithErrors
	default:
		info.LoadStatus = StatusSuccess
	}
	return info
}

func firstMatch(re *regexp.Regexp, content string) string {
	if m := re.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func firstInt(re *regexp.Regexp, content string) int64 {
	s := firstMatch(re, content)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
