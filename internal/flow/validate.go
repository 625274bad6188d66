package flow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the calendar-date format requests are entered and stored in.
const DateFormat = "02.01.2006"

// ParseSeason validates a cohort season number, an integer in [1,5].
func ParseSeason(input string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 || n > 5 {
		return 0, fmt.Errorf("season must be a number from 1 to 5")
	}
	return n, nil
}

// ParseStars validates a star rating, an integer in [1,5].
func ParseStars(input string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 || n > 5 {
		return 0, fmt.Errorf("rating must be a number from 1 to 5")
	}
	return n, nil
}

// ParseDateRange validates a "DD.MM.YYYY-DD.MM.YYYY" range. Both dates must
// parse and the end must not precede the start. Past dates are allowed.
func ParseDateRange(input string) (start, end string, err error) {
	parts := strings.SplitN(input, "-", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected two dates separated by '-'")
	}

	start = strings.TrimSpace(parts[0])
	end = strings.TrimSpace(parts[1])

	from, err := time.Parse(DateFormat, start)
	if err != nil {
		return "", "", fmt.Errorf("start date %q is not DD.MM.YYYY", start)
	}
	to, err := time.Parse(DateFormat, end)
	if err != nil {
		return "", "", fmt.Errorf("end date %q is not DD.MM.YYYY", end)
	}
	if to.Before(from) {
		return "", "", fmt.Errorf("end date is before start date")
	}

	return start, end, nil
}
