package malwarelist

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var caser = cases.Lower(language.Und)

// ChromeExtensionIDFormatter extracts the lowercased 32-character extension
// ID from a package name of the form "Label@extension-id" or a raw ID.
type ChromeExtensionIDFormatter struct{}

func (ChromeExtensionIDFormatter) Format(e ListDataEntry) string {
	name := e.PackageName
	if _, id, found := strings.Cut(name, "@"); found {
		name = id
	}
	return caser.String(strings.TrimSpace(name))
}

// SkillsShRepoFormatter extracts "owner/repo" from "owner/repo/skill-name"
// (or a bare "owner/repo"), lowercased.
type SkillsShRepoFormatter struct{}

func (SkillsShRepoFormatter) Format(e ListDataEntry) string {
	parts := strings.SplitN(e.PackageName, "/", 3)
	if len(parts) < 2 {
		return caser.String(e.PackageName)
	}
	return caser.String(parts[0] + "/" + parts[1])
}
