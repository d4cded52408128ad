package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		answer  string
		want    []int
		all     bool
		wantErr string
	}{
		{answer: "2", want: []int{2}},
		{answer: " 3,1 ", want: []int{1, 3}},
		{answer: "2-4 1", want: []int{1, 2, 3, 4}},
		{answer: "2,2-3", want: []int{2, 3}},
		{answer: "A", all: true},
		{answer: "all", all: true},
		{answer: "", wantErr: "nothing selected"},
		{answer: "x", wantErr: `invalid index "x"`},
		{answer: "4-2", wantErr: `invalid range "4-2"`},
		{answer: "0", wantErr: "index 0 out of range 1-5"},
		{answer: "5-6", wantErr: "index 6 out of range 1-5"},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			got, all, err := parseSelection(tt.answer, 5)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.all, all)
		})
	}
}

func TestPromptSelectionRetriesInvalidAnswer(t *testing.T) {
	var out bytes.Buffer
	got, all, err := promptSelection(strings.NewReader("9\n1-2\n"), &out, "resume", 3)
	require.NoError(t, err)
	assert.False(t, all)
	assert.Equal(t, []int{1, 2}, got)
	assert.Contains(t, out.String(), "index 9 out of range 1-3")
	assert.Equal(t, 2, strings.Count(out.String(), "Select downloads to resume"))
}

func TestPromptSelectionEndOfInput(t *testing.T) {
	_, _, err := promptSelection(strings.NewReader(""), &bytes.Buffer{}, "delete", 3)
	require.ErrorIs(t, err, errNoSelection)
}
