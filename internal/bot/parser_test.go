package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandParser_ParseCommand(t *testing.T) {
	p := NewCommandParser()

	tests := []struct {
		text      string
		cmd       string
		args      []string
		isCommand bool
	}{
		{"!карма", "карма", nil, true},
		{".ТОП 5", "топ", []string{"5"}, true},
		{"/start", "start", nil, true},
		{"/top@karma_bot 3", "top", []string{"3"}, true},
		{"  !отсыпать   @bob   2 ", "отсыпать", []string{"@bob", "2"}, true},
		{"!", "", nil, false},
		{"карма", "", nil, false},
		{"+1", "", nil, false},
		{"", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, args, ok := p.ParseCommand(tt.text)
			assert.Equal(t, tt.isCommand, ok)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.args, args)
		})
	}
}
