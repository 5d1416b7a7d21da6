package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSQLStatements(t *testing.T) {
	schema := `
-- products
CREATE TABLE a (id INT);

  -- indented comment
CREATE TABLE b (
  id INT
);
;
`
	got := splitSQLStatements(schema)
	assert.Equal(t, []string{
		"CREATE TABLE a (id INT)",
		"CREATE TABLE b (\n  id INT\n)",
	}, got)
}
