package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"users", "`users`"},
		{"select", "`select`"},         // reserved word
		{"first name", "`first name`"}, // space in name
		{"user`data", "`user``data`"},  // backtick in name
		{"", "``"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdentifier(tt.input))
		})
	}
}

func TestQuoteANSIIdentifier(t *testing.T) {
	assert.Equal(t, `"users"`, QuoteANSIIdentifier("users"))
	assert.Equal(t, `"a""b"`, QuoteANSIIdentifier(`a"b`))
	assert.Equal(t, `"a`+"`"+`b"`, QuoteANSIIdentifier("a`b"))
}

func TestDialect_QuoteQualified(t *testing.T) {
	tests := []struct {
		dialect  Dialect
		input    string
		expected string
	}{
		{MySQL, "orders", "`orders`"},
		{MySQL, "shop.orders", "`shop`.`orders`"},
		{Postgres, "public.orders", `"public"."orders"`},
		{SQLite, "orders", `"orders"`},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect)+"/"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dialect.QuoteQualified(tt.input))
		})
	}
}

func TestParseDialect(t *testing.T) {
	for driver, want := range map[string]Dialect{
		"mysql":      MySQL,
		"TiDB":       MySQL,
		"postgres":   Postgres,
		"postgresql": Postgres,
		"pgx":        Postgres,
		"sqlite":     SQLite,
		" sqlite3 ":  SQLite,
	} {
		got, err := ParseDialect(driver)
		require.NoError(t, err, driver)
		assert.Equal(t, want, got, driver)
	}

	_, err := ParseDialect("oracle")
	assert.Error(t, err)
}
