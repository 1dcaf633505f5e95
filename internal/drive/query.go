package drive

import "strings"

// escapeQuery quotes a literal for the Drive query language, where string
// values are single-quoted and backslash is the escape character.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)

	return strings.ReplaceAll(s, `'`, `\'`)
}

// buildQuery renders a ListQuery's filter. Clauses are ANDed; the parent
// clause is ORed with sharedWithMe when requested so items shared directly
// with the account show up at the top level.
func buildQuery(q ListQuery) string {
	var clauses []string

	switch {
	case q.ParentID != "" && q.SharedWithMe:
		clauses = append(clauses, "('"+escapeQuery(q.ParentID)+"' in parents or sharedWithMe)")
	case q.ParentID != "":
		clauses = append(clauses, "'"+escapeQuery(q.ParentID)+"' in parents")
	case q.SharedWithMe:
		clauses = append(clauses, "sharedWithMe")
	}

	if q.Name != "" {
		clauses = append(clauses, "name='"+escapeQuery(q.Name)+"'")
	}

	return strings.Join(clauses, " and ")
}
