package article

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errUnparseableDate = errors.New("unparseable date")

var monthNames = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"setiembre": time.September, "octubre": time.October,
	"noviembre": time.November, "diciembre": time.December,

	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "sept": time.September, "oct": time.October,
	"nov": time.November, "dec": time.December,
}

var fillerWords = map[string]struct{}{
	"de": {}, "del": {}, "of": {}, "the": {},
	"lunes": {}, "martes": {}, "miércoles": {}, "miercoles": {}, "jueves": {},
	"viernes": {}, "sábado": {}, "sabado": {}, "domingo": {},
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {},
	"friday": {}, "saturday": {}, "sunday": {},
}

// ParseDate parses publication dates as they appear on listing pages:
// ISO dates ("2025-01-20"), Spanish long dates with an optional weekday
// ("lunes, 20 de enero de 2025") and English long dates ("January 20, 2025").
// The result is a UTC midnight.
func ParseDate(raw string) (time.Time, error) {
	text := strings.TrimSpace(raw)
	if text == "" || strings.EqualFold(text, "N/A") {
		return time.Time{}, errUnparseableDate
	}
	if t, err := time.Parse(DateLayout, text); err == nil {
		return t, nil
	}

	tokens := strings.Fields(strings.NewReplacer(",", " ", ".", " ", "/", " ").Replace(strings.ToLower(text)))
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, skip := fillerWords[tok]; skip {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q", errUnparseableDate, raw)
	}

	var (
		dayTok, yearTok string
		month           time.Month
	)
	if m, ok := monthNames[kept[1]]; ok {
		dayTok, month, yearTok = kept[0], m, kept[2]
	} else if m, ok := monthNames[kept[0]]; ok {
		month, dayTok, yearTok = m, kept[1], kept[2]
	} else {
		return time.Time{}, fmt.Errorf("%w: %q", errUnparseableDate, raw)
	}

	day, err := strconv.Atoi(trimOrdinal(dayTok))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", errUnparseableDate, raw)
	}
	year, err := strconv.Atoi(yearTok)
	if err != nil || year < 1000 {
		return time.Time{}, fmt.Errorf("%w: %q", errUnparseableDate, raw)
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalises 31 February into March; reject instead.
	if t.Day() != day || t.Month() != month {
		return time.Time{}, fmt.Errorf("%w: %q", errUnparseableDate, raw)
	}
	return t, nil
}

func trimOrdinal(tok string) string {
	for _, suffix := range []string{"st", "nd", "rd", "th", "º", "°"} {
		if strings.HasSuffix(tok, suffix) {
			return strings.TrimSuffix(tok, suffix)
		}
	}
	return tok
}
