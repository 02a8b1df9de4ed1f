package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchKeyword(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keywords []string
		mode     MatchMode
		want     bool
	}{
		{"contains default mode", "oi, bom dia", []string{"oi"}, "", true},
		{"contains ignores case", "Quero o PREÇO", []string{"preço"}, MatchContains, true},
		{"exact trims", "  Menu ", []string{"menu"}, MatchExact, true},
		{"exact rejects longer text", "menu please", []string{"menu"}, MatchExact, false},
		{"starts with", "pedido 123", []string{"pedido"}, MatchStartsWith, true},
		{"starts with rejects suffix", "meu pedido", []string{"pedido"}, MatchStartsWith, false},
		{"any keyword", "hello", []string{"oi", "hello"}, MatchExact, true},
		{"blank keywords never match", "anything", []string{"", "  "}, MatchContains, false},
		{"no keywords", "anything", nil, MatchContains, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchKeyword(tt.text, tt.keywords, tt.mode))
		})
	}
}

