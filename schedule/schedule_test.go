package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronExpression(t *testing.T) {
	for _, tc := range []struct {
		seconds int
		expect  string
	}{
		{60, "cron(0/01 * * * ? *)"},
		{300, "cron(0/05 * * * ? *)"},
		{330, "cron(0/05 * * * ? *)"},
		{900, "cron(0/15 * * * ? *)"},
		{3600, "cron(0 1 * * ? *)"},
		{7230, "cron(0 2 * * ? *)"},
		{5400, "cron(0/30 1 * * ? *)"},
	} {
		var expr, err = CronExpression(tc.seconds)
		require.NoError(t, err)
		assert.Equal(t, tc.expect, expr, "seconds %d", tc.seconds)
	}

	var _, err = CronExpression(59)
	assert.EqualError(t, err, "invalid period (59s; expected >= 60s)")
	_, err = CronExpression(86400)
	assert.EqualError(t, err, "invalid period (86400s; expected < 24h)")
}
