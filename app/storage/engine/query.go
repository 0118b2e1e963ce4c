package engine

import "fmt"

// DBCmd identifies one storage operation with SQL behind it. Each table owns
// a disjoint range of command values so catalogs can't collide.
type DBCmd int

// SQLVariants holds the text of one statement for every supported dialect.
type SQLVariants struct {
	Sqlite   string
	Postgres string
}

// Statements is a catalog of per-dialect SQL keyed by command. Tables declare
// theirs as a literal and resolve entries through SQL.Pick, which matches the
// connection's dialect.
type Statements map[DBCmd]SQLVariants

// Same makes a variants entry sharing one statement across all dialects,
// for SQL that needs no per-engine adjustments.
func Same(query string) SQLVariants {
	return SQLVariants{Sqlite: query, Postgres: query}
}

// Pick resolves a command from the catalog to the SQL text for this
// connection's dialect.
func (e *SQL) Pick(stmts Statements, cmd DBCmd) (string, error) {
	v, ok := stmts[cmd]
	if !ok {
		return "", fmt.Errorf("no statement registered for command %d", cmd)
	}
	switch e.dbType {
	case Sqlite:
		return v.Sqlite, nil
	case Postgres:
		return v.Postgres, nil
	default:
		return "", fmt.Errorf("no %q variant for command %d", e.dbType, cmd)
	}
}
