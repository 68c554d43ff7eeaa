package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/faults"
)

func headText(w io.Writer) error {
	_, err := fmt.Fprintln(w, "head 4")
	return err
}

func TestRender(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		f := &OutputFormatter{Format: "text", Writer: &buf}
		require.NoError(t, f.Render(map[string]int{"head": 4}, headText))
		assert.Equal(t, "head 4\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		f := &OutputFormatter{Format: "json", Writer: &buf}
		require.NoError(t, f.Render(map[string]int{"head": 4}, headText))
		assert.JSONEq(t, `{"status":"ok","data":{"head":4}}`, buf.String())
	})
}

func TestFail(t *testing.T) {
	cause := faults.NewValidation("validate", []faults.Violation{
		{Path: "payload.locator", Message: "required"},
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		f := &OutputFormatter{Format: "text", Writer: &buf}

		err := f.Fail(ExitFailure, "candidate e1 rejected", cause)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.True(t, IsReported(err))
		assert.True(t, faults.IsValidation(err))
		assert.Contains(t, buf.String(), "Error [VALIDATION]: candidate e1 rejected")
		assert.Contains(t, buf.String(), "  payload.locator: required\n")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		f := &OutputFormatter{Format: "json", Writer: &buf}

		err := f.Fail(ExitFailure, "candidate e1 rejected", cause)
		require.Error(t, err)

		var resp struct {
			Status string `json:"status"`
			Error  struct {
				Code    string             `json:"code"`
				Details []faults.Violation `json:"details"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, "VALIDATION", resp.Error.Code)
		assert.Equal(t, []faults.Violation{{Path: "payload.locator", Message: "required"}}, resp.Error.Details)
	})

	t.Run("json without violations", func(t *testing.T) {
		var buf bytes.Buffer
		f := &OutputFormatter{Format: "json", Writer: &buf}

		err := f.Fail(ExitCommandError, "open", faults.NewIntegrity("snapshot.load", "checksum mismatch", nil))
		assert.Equal(t, ExitCommandError, GetExitCode(err))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "INTEGRITY", resp.Error.Code)
		assert.Nil(t, resp.Error.Details)
	})
}

func TestVerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		errOut  bool
	}{
		{"quiet", false, false},
		{"to writer", true, false},
		{"to err writer", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, diag bytes.Buffer
			f := &OutputFormatter{Format: "text", Writer: &out, Verbose: tt.verbose}
			if tt.errOut {
				f.ErrWriter = &diag
			}

			f.VerboseLog("recovered %d records", 3)

			switch {
			case !tt.verbose:
				assert.Empty(t, out.String())
			case tt.errOut:
				assert.Empty(t, out.String())
				assert.Equal(t, "recovered 3 records\n", diag.String())
			default:
				assert.Equal(t, "recovered 3 records\n", out.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "open", errors.New("denied")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.False(t, IsReported(wrapped))
	assert.Equal(t, "open: denied", errors.Unwrap(wrapped).Error())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "ERROR", ErrorCode(errors.New("boom")))
	assert.Equal(t, "INTEGRITY", ErrorCode(faults.NewIntegrity("snapshot.load", "bad", nil)))
}
