package domaintrie

import "testing"

func TestExactMatch(t *testing.T) {
	tr := New()
	tr.Insert("example.com")
	if !tr.Match("example.com") {
		t.Error("expected exact match")
	}
	if tr.Match("sub.example.com") {
		t.Error("exact entry must not match a subdomain")
	}
	if tr.Match("other.com") {
		t.Error("unrelated host must not match")
	}
}

func TestWildcardParentMatchesSubdomainsAndRoot(t *testing.T) {
	tr := New()
	tr.Insert("*.example.com")
	if !tr.Match("sub.example.com") {
		t.Error("expected subdomain match")
	}
	if !tr.Match("a.b.example.com") {
		t.Error("expected deep subdomain match")
	}
	if !tr.Match("example.com") {
		t.Error("expected wildcard-parent to also match the bare domain, per original_source ground truth")
	}
	if tr.Match("notexample.com") {
		t.Error("must not match unrelated suffix-sharing host")
	}
}

func TestWildcardWinsOverExactRegardlessOfOrder(t *testing.T) {
	t.Run("exact then wildcard", func(t *testing.T) {
		tr := New()
		tr.Insert("example.com")
		tr.Insert("*.example.com")
		if !tr.Match("sub.example.com") {
			t.Error("expected wildcard mode to win")
		}
	})
	t.Run("wildcard then exact", func(t *testing.T) {
		tr := New()
		tr.Insert("*.example.com")
		tr.Insert("example.com")
		if !tr.Match("sub.example.com") {
			t.Error("expected wildcard mode to remain after a later exact insert")
		}
	})
}

func TestInsertIsIdempotent(t *testing.T) {
	tr := New()
	tr.Insert("example.com")
	tr.Insert("example.com")
	if !tr.Match("example.com") {
		t.Error("expected match after duplicate insert")
	}
}

func TestMatcher(t *testing.T) {
	m := NewMatcher("registry.npmjs.org", "*.pythonhosted.org")
	if !m.Match("registry.npmjs.org") {
		t.Error("expected exact match")
	}
	if !m.Match("files.pythonhosted.org") {
		t.Error("expected wildcard match")
	}
	if m.Match("pypi.org") {
		t.Error("unrelated domain must not match")
	}
}

func TestCaseAndTrailingDotNormalization(t *testing.T) {
	tr := New()
	tr.Insert("Example.COM.")
	if !tr.Match("example.com") {
		t.Error("expected case/trailing-dot normalized match")
	}
	if !tr.Match("EXAMPLE.com.") {
		t.Error("expected case/trailing-dot normalized match on query side too")
	}
}
