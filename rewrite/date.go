package rewrite

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Short date layouts per locale, matching what browsers print for
// Intl.DateTimeFormat(locale).format(date). The first entry is the
// fallback.
var dateLayouts = []struct {
	tag    language.Tag
	layout string
}{
	{language.AmericanEnglish, "1/2/2006"},
	{language.BritishEnglish, "02/01/2006"},
	{language.MustParse("en-CA"), "2006-01-02"},
	{language.French, "02/01/2006"},
	{language.German, "2.1.2006"},
	{language.Spanish, "2/1/2006"},
	{language.Italian, "2/1/2006"},
	{language.Dutch, "2-1-2006"},
	{language.BrazilianPortuguese, "02/01/2006"},
	{language.Swedish, "2006-01-02"},
	{language.Japanese, "2006/1/2"},
	{language.SimplifiedChinese, "2006/1/2"},
	{language.Korean, "2006. 1. 2."},
}

var dateMatcher = func() language.Matcher {
	tags := make([]language.Tag, len(dateLayouts))
	for i, d := range dateLayouts {
		tags[i] = d.tag
	}
	return language.NewMatcher(tags)
}()

// dateLayout picks the layout for a BCP 47 locale, falling back to en-US.
func dateLayout(locale string) string {
	if strings.TrimSpace(locale) == "" {
		return dateLayouts[0].layout
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return dateLayouts[0].layout
	}
	_, idx, conf := dateMatcher.Match(tag)
	if conf == language.No {
		return dateLayouts[0].layout
	}
	return dateLayouts[idx].layout
}

var errNoDate = errors.New("rewrite: empty signup date")

// parseCreatedAt accepts RFC 3339 timestamps, plain dates and Unix epoch
// milliseconds.
func parseCreatedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errNoDate
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("rewrite: unparseable signup date %q", s)
}

// FormatSignupDate renders createdAt as a short date for locale, in UTC.
func FormatSignupDate(createdAt, locale string) (string, error) {
	t, err := parseCreatedAt(createdAt)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(dateLayout(locale)), nil
}
