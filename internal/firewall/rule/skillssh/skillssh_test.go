package skillssh

import "testing"

func TestParseRepoFromPathGitSuffix(t *testing.T) {
	cases := []struct{ path, want string }{
		{"/owner/repo.git/info/refs", "owner/repo"},
		{"/owner/repo.git/git-upload-pack", "owner/repo"},
		{"/owner/repo.git/git-receive-pack", "owner/repo"},
		{"/owner/repo/info/refs", "owner/repo"},
		{"/owner/repo/git-upload-pack", "owner/repo"},
		{"/owner/repo/git-receive-pack", "owner/repo"},
		{"/Owner/Repo/git-upload-pack", "owner/repo"},
	}
	for _, c := range cases {
		got, ok := parseRepoFromPath(c.path)
		if !ok || got != c.want {
			t.Errorf("parseRepoFromPath(%q) = (%q, %v), want (%q, true)", c.path, got, ok, c.want)
		}
	}
}

func TestParseRepoFromPathRejectsNonGitPath(t *testing.T) {
	if _, ok := parseRepoFromPath("/owner/repo/releases/tag/v1.0.0"); ok {
		t.Error("expected no match for a non-git path")
	}
}

func TestParseRepoFromPathRejectsPathWithoutOwner(t *testing.T) {
	if _, ok := parseRepoFromPath("/repo/git-upload-pack"); ok {
		t.Error("expected no match when there is no owner segment")
	}
}
