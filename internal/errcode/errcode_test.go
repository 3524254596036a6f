package errcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"weird code!":          "WEIRD_CODE_",
		"":                     "UNKNOWN",
		"NETWORK":              "NETWORK",
		"QTY_LIMIT":            "QTY_LIMIT",
		"unauthorised":         "UNAUTHORISED",
		"<script>alert(1)":     "_SCRIPT_ALERT_1_",
		"café":                 "CAF_",
		"already_ok_123":       "ALREADY_OK_123",
		"a-b c":                "A_B_C",
		"UPSTREAM_UNREACHABLE": "UPSTREAM_UNREACHABLE",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "Sanitize(%q)", in)
	}
}

func TestSanitize_Bounded(t *testing.T) {
	got := Sanitize(strings.Repeat("x", 500))
	assert.Len(t, got, maxLen)
	assert.Equal(t, strings.Repeat("X", maxLen), got)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "", CodeOf(nil))
	assert.Equal(t, QtyLimit, CodeOf(New(QtyLimit, 200, nil)))
	assert.Equal(t, Parse, CodeOf(fmt.Errorf("read catalog: %w", New(Parse, 200, errors.New("bad json")))))
	assert.Equal(t, Network, CodeOf(context.DeadlineExceeded))
	assert.Equal(t, Unknown, CodeOf(errors.New("boom")))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "REQUEST_FAILED (status 500)", New(RequestFailed, 500, nil).Error())
	assert.Equal(t, "NETWORK: dial tcp: refused", New(Network, 0, errors.New("dial tcp: refused")).Error())
}
