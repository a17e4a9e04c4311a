package environ

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetString(t *testing.T) {
	assert.Equal(t, "fallback", GetString("TW_TEST_STRING", "fallback"))

	t.Setenv("TW_TEST_STRING", "value")
	assert.Equal(t, "value", GetString("TW_TEST_STRING", "fallback"))
}

func TestGetInt(t *testing.T) {
	assert.Equal(t, 7788, GetInt("TW_TEST_INT", 7788))

	t.Setenv("TW_TEST_INT", "8080")
	assert.Equal(t, 8080, GetInt("TW_TEST_INT", 7788))

	t.Setenv("TW_TEST_INT", "not-a-number")
	assert.Equal(t, 7788, GetInt("TW_TEST_INT", 7788))
}

func TestGetBool(t *testing.T) {
	assert.True(t, GetBool("TW_TEST_BOOL", true))

	t.Setenv("TW_TEST_BOOL", "false")
	assert.False(t, GetBool("TW_TEST_BOOL", true))

	t.Setenv("TW_TEST_BOOL", "true")
	assert.True(t, GetBool("TW_TEST_BOOL", false))
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, time.Second, GetDuration("TW_TEST_DURATION", time.Second))

	t.Setenv("TW_TEST_DURATION", "5s")
	assert.Equal(t, 5*time.Second, GetDuration("TW_TEST_DURATION", time.Second))

	t.Setenv("TW_TEST_DURATION", "soon")
	assert.Equal(t, time.Second, GetDuration("TW_TEST_DURATION", time.Second))
}

func TestGetStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a"}, GetStringSlice("TW_TEST_SLICE", []string{"a"}))

	t.Setenv("TW_TEST_SLICE", "http://a, ,http://b,")
	assert.Equal(t, []string{"http://a", "http://b"}, GetStringSlice("TW_TEST_SLICE", nil))
}
