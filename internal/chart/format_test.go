package chart

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/starford/arvore/internal/models"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"", "", ""},
		{"ANA", "ANA", ""},
		{"  ana   maria  souza ", "ana", "souza"},
		{"JOAO SILVA", "JOAO", "SILVA"},
	}
	for _, tt := range tests {
		first, last := SplitName(tt.in)
		assert.Equal(t, tt.first, first, tt.in)
		assert.Equal(t, tt.last, last, tt.in)
	}
}

func TestConvertDate(t *testing.T) {
	assert.Equal(t, "1980-03-02", ConvertDate("02/03/1980"))
	assert.Equal(t, "1980-03-02", ConvertDate("1980-03-02"))
	assert.Empty(t, ConvertDate("SEM INFORMAÇÃO"))
	assert.Empty(t, ConvertDate(""))
	assert.Empty(t, ConvertDate("31/02/2000"))
	assert.Empty(t, ConvertDate("yesterday"))
}

func TestConvertGender(t *testing.T) {
	assert.Equal(t, models.GenderFemale, ConvertGender("f"))
	assert.Equal(t, models.GenderFemale, ConvertGender("FEMININO"))
	assert.Equal(t, models.GenderMale, ConvertGender("M"))
	assert.Equal(t, models.GenderUnknown, ConvertGender(""))
	assert.Equal(t, models.GenderUnknown, ConvertGender("I"))
}
