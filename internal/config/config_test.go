package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvDefaults(t *testing.T) {
	t.Setenv("REGMONITOR_TEST_UNSET", "")
	assert.Equal(t, "fallback", GetEnv("REGMONITOR_TEST_UNSET", "fallback"))

	t.Setenv("REGMONITOR_TEST_SET", "value")
	assert.Equal(t, "value", GetEnv("REGMONITOR_TEST_SET", "fallback"))
}

func TestGetEnvBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "Y": true, "false": false, "0": false, "": false}
	for raw, want := range cases {
		t.Setenv("REGMONITOR_TEST_BOOL", raw)
		assert.Equal(t, want, GetEnvBool("REGMONITOR_TEST_BOOL", false), "raw=%q", raw)
	}
}

func TestSplitAndTrimCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitAndTrimCSV(" a, b ,c,"))
	assert.Nil(t, SplitAndTrimCSV(""))
}

func TestParseByteSize(t *testing.T) {
	got, err := ParseByteSize("512MB")
	assert.NoError(t, err)
	assert.Equal(t, int64(512*1024*1024), got)

	_, err = ParseByteSize("not-a-size")
	assert.Error(t, err)
}

func TestParseDurationOrDefault(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDurationOrDefault("5s", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOrDefault("garbage", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOrDefault("", time.Minute))
}
