package at_test

import (
	"bufio"
	"strings"
	"testing"

	"i4.energy/across/shortrange/at"
)

func TestSplitter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Simple response",
			input:    "\r\nOK\r\n",
			expected: []string{"", "OK"},
		},
		{
			name:     "Information response",
			input:    "+UDCP:3\r\nOK\r\n",
			expected: []string{"+UDCP:3", "OK"},
		},
		{
			name:     "Command error",
			input:    "+CME ERROR: 3\r\n",
			expected: []string{"+CME ERROR: 3"},
		},
		{
			name:     "URC mixed with response",
			input:    "NINA-B1\r\n+UUDPD:2\r\nOK\r\n",
			expected: []string{"NINA-B1", "+UUDPD:2", "OK"},
		},
		{
			name:     "Unterminated tail",
			input:    "OK\r\n+UUDP",
			expected: []string{"OK", "+UUDP"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(at.Splitter)

			var got []string
			for scanner.Scan() {
				got = append(got, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				t.Fatalf("unexpected scanner error: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d tokens %q, got %d %q", len(tt.expected), tt.expected, len(got), got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("token %d: expected %q, got %q", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestSplitterNeedsMoreData(t *testing.T) {
	advance, token, err := at.Splitter([]byte("+UUDPC:1,1"), false)
	if advance != 0 || token != nil || err != nil {
		t.Errorf("expected request for more data, got advance=%d token=%q err=%v", advance, token, err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line     string
		expected at.ResponseType
	}{
		{"OK", at.TypeFinal},
		{"ERROR", at.TypeFinal},
		{"+CME ERROR: 4", at.TypeFinal},
		{"+UUDPC:1,1,14,D4CA6EDEADBE,244", at.TypeURC},
		{"+UUDPD:1", at.TypeURC},
		{"+UUWLE:0,32A9D5C1F2E3,6", at.TypeURC},
		{"+UUND:0", at.TypeURC},
		{"+STARTUP", at.TypeURC},
		{"+UDCP:1", at.TypeData},
		{"NINA-B112", at.TypeData},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := at.Classify(tt.line); got != tt.expected {
				t.Errorf("Classify(%q) = %d, expected %d", tt.line, got, tt.expected)
			}
		})
	}
}
