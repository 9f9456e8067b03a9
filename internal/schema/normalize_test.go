package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Amount", "amount"},
		{"  amount  ", "amount"},
		{"loan_amount", "loan amount"},
		{"Loan-Amount", "loan amount"},
		{"Loan Amount (£)", "loan amount"},
		{"Région", "region"},
		{"Days  Past\tDue", "days past due"},
		{"%", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHeader(tt.input))
		})
	}
}
