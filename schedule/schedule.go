// Package schedule converts re-invocation periods into scheduler expressions.
package schedule

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// CronExpression converts a period of |seconds| into an EventBridge cron
// expression which fires every period, as "cron(0/<minutes> <hours> * * ? *)".
// A zero hours component is rendered as "*", and a zero minutes component
// as "0", firing on the hour. Seconds beyond a whole minute are truncated.
func CronExpression(seconds int) (string, error) {
	if seconds < 60 {
		return "", errors.Errorf("invalid period (%ds; expected >= 60s)", seconds)
	} else if seconds >= 24*60*60 {
		return "", errors.Errorf("invalid period (%ds; expected < 24h)", seconds)
	}
	var hours, minutes = seconds / 3600, (seconds % 3600) / 60

	var h, m = "*", "0"
	if hours != 0 {
		h = strconv.Itoa(hours)
	}
	if minutes != 0 {
		m = fmt.Sprintf("0/%02d", minutes)
	}
	return fmt.Sprintf("cron(%s %s * * ? *)", m, h), nil
}
