package domain

import "strings"

const versionSeparator = " - "

// FullName is "<company> <name>" followed by " - <version>" when a version is set.
func (t AuthoringTool) FullName() string {
	base := strings.TrimSpace(t.CompanyName + " " + t.Name)
	if t.Version == nil {
		return base
	}
	return strings.TrimSpace(base + versionSeparator + *t.Version)
}

// fullNameWithoutDash joins the parts around the last " - " with a single space.
func fullNameWithoutDash(full string) (string, bool) {
	i := strings.LastIndex(full, versionSeparator)
	if i < 0 {
		return "", false
	}
	left := strings.TrimSpace(full[:i])
	right := strings.TrimSpace(full[i+len(versionSeparator):])
	return left + " " + right, true
}

// MatchesFullName reports whether name equals the tool's full name or its dash-less variant.
func (t AuthoringTool) MatchesFullName(name string) bool {
	full := t.FullName()
	if name == full {
		return true
	}
	variant, ok := fullNameWithoutDash(full)
	return ok && name == variant
}

// ToolMatch is the result of resolving a free-text tool name.
// Tool is set on a unique match; Ambiguous lists every match when more than one tool fits.
type ToolMatch struct {
	Tool      *AuthoringTool  `json:"tool,omitempty"`
	Ambiguous []AuthoringTool `json:"ambiguous,omitempty"`
}

func (m ToolMatch) Found() bool { return m.Tool != nil || len(m.Ambiguous) > 0 }

// FindByFullName scans tools for every entry matching name. Surrounding
// whitespace in name is ignored.
func FindByFullName(tools []AuthoringTool, name string) ToolMatch {
	name = strings.TrimSpace(name)
	var found []AuthoringTool
	for _, t := range tools {
		if t.MatchesFullName(name) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return ToolMatch{}
	case 1:
		return ToolMatch{Tool: &found[0]}
	default:
		return ToolMatch{Ambiguous: found}
	}
}

// NormalizeVersion maps a blank version to absent so (name, version) uniqueness treats them alike.
func NormalizeVersion(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
