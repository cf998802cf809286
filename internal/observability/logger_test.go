package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithConnectionID(t *testing.T) {
	var buf bytes.Buffer
	logger := WithConnectionID(zerolog.New(&buf), "conn-123")
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"connection_id":"conn-123"`) {
		t.Errorf("Expected connection_id field in log output, got %s", buf.String())
	}
}

func TestWithConnectionID_GeneratesWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := WithConnectionID(zerolog.New(&buf), "")
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"connection_id":"`) {
		t.Errorf("Expected a generated connection_id in log output, got %s", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(zerolog.New(&buf), "relay")
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"component":"relay"`) {
		t.Errorf("Expected component field in log output, got %s", buf.String())
	}
}

func TestNewConnectionID_Unique(t *testing.T) {
	a := NewConnectionID()
	b := NewConnectionID()
	if a == "" || a == b {
		t.Errorf("Expected distinct non-empty connection IDs, got %q and %q", a, b)
	}
}
