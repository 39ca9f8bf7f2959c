package eligibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeReason(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		candidate string
		want      string
	}{
		{
			name:      "drops name fragments and duplicates",
			raw:       " Alt / John Smith / duplicate ",
			candidate: "John Smith",
			want:      "Alt / duplicate",
		},
		{
			name:      "keeps name fragment mentioning alt",
			raw:       "alt of John Smith / spam",
			candidate: "John Smith",
			want:      "Alt of John Smith / spam",
		},
		{
			name:      "case insensitive dedupe keeps first spelling",
			raw:       "Spam / spam / SPAM",
			candidate: "someone",
			want:      "Spam",
		},
		{
			name:      "capitalizes first fragment",
			raw:       "raiding",
			candidate: "someone",
			want:      "Raiding",
		},
		{
			name:      "only name fragments leaves nothing",
			raw:       "John Smith / john smith",
			candidate: "John Smith",
			want:      "",
		},
		{
			name:      "empty input",
			raw:       "",
			candidate: "someone",
			want:      "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeReason(tt.raw, tt.candidate))
		})
	}
}
