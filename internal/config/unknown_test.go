package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		noHint  bool
	}{
		{
			name:    "typo in section key",
			content: "[remote]\nbase_ulr = \"https://x\"\n",
			want:    `unknown config key "base_ulr" in [remote]; did you mean "base_url"?`,
		},
		{
			name:    "typo in section name",
			content: "[netwrok]\nprobe_url = \"https://x\"\n",
			want:    `unknown config section [netwrok]; did you mean "network"?`,
		},
		{
			name:    "top level key",
			content: "db_path = \"/tmp/x.db\"\n",
			want:    `unknown config key "db_path"`,
			noHint:  true,
		},
		{
			name:    "unrelated key",
			content: "[logging]\ncompletely_unrelated = true\n",
			want:    `unknown config key "completely_unrelated" in [logging]`,
			noHint:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTestConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			if tt.noHint {
				assert.NotContains(t, err.Error(), "did you mean")
			}
		})
	}
}

func TestLoad_UnknownSectionReportedOnce(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[sync]\npoll_interval = \"5m\"\nwebsocket = true\n"))
	require.Error(t, err)
	assert.Equal(t, "unknown config section [sync]", err.Error())
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"base_ulr", "base_url", 2},
		{"timout", "timeout", 1},
		{"completely_different", "xyz", 19},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch(t *testing.T) {
	known := knownKeys["network"]

	assert.Equal(t, "probe_url", closestMatch("probe_ur", known))
	assert.Equal(t, "socket_url", closestMatch("sockt_url", known))
	assert.Empty(t, closestMatch("completely_unrelated", known))
}
