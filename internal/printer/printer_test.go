package printer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dyluth/daub/internal/errkind"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr, prevColor := Out, Err, color.NoColor
	Out, Err, color.NoColor = &out, &errOut, true
	t.Cleanup(func() { Out, Err, color.NoColor = prevOut, prevErr, prevColor })
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "This is a test error", nil)
		require.Error(t, err)
		assert.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "This is a test error")
	})

	t.Run("single suggestion is printed plainly", func(t *testing.T) {
		_, errOut := capture(t)
		Error("Test Error", "Explanation", []string{"Try this fix"})
		assert.Contains(t, errOut.String(), "\nTry this fix\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		Error("Test Error", "Explanation", []string{"First option", "Second option"})
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext_SortsDetails(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("Test Error", "", map[string]string{"b": "2", "a": "1"}, nil)
	assert.Equal(t, "Test Error", err.Error())
	assert.Contains(t, errOut.String(), "  a: 1\n  b: 2\n")
}

func TestStartupError(t *testing.T) {
	tests := []struct {
		err   error
		title string
		hint  string
	}{
		{errkind.Errorf(errkind.FileAccess, "load targets", "open nodes.json: no such file"), "cannot read input file", "readable"},
		{errkind.Errorf(errkind.ConfigParse, "load config", "thread_num must be positive"), "invalid configuration", "daub check"},
		{errkind.Errorf(errkind.UrlScheme, "load config", "board_addr: scheme ftp"), "invalid board address", "ws://"},
		{errors.New("boom"), "daub failed", "Kind: unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			_, errOut := capture(t)
			err := StartupError(tt.err)
			assert.Equal(t, tt.title, err.Error())
			assert.Contains(t, errOut.String(), tt.err.Error())
			assert.Contains(t, errOut.String(), tt.hint)
		})
	}
}

func TestStatusLines(t *testing.T) {
	out, _ := capture(t)
	Success("done\n")
	Warning("careful\n")
	Step("next\n")
	Info("plain %d\n", 1)
	assert.Equal(t, "✓ done\n⚠️  careful\n→ next\nplain 1\n", out.String())
}
