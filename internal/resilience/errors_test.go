package resilience

import (
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped transient", fmt.Errorf("outer: %w", NewTransientError(eris.New("inner"))), true},
		{"connection refused", eris.New("dial tcp 10.0.0.1:5432: connection refused"), true},
		{"postgres starting up", eris.New("FATAL: the database system is starting up"), true},
		{"too many clients", eris.New("FATAL: sorry, too many clients already"), true},
		{"sqlite busy", eris.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"io timeout", eris.New("read tcp: i/o timeout"), true},
		{"syntax error", eris.New("ERROR: syntax error at or near SELECT"), false},
		{"not found", eris.New("store: not found"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
