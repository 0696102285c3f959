package source

import "testing"

func TestCanonical(t *testing.T) {
	cases := []struct {
		in   string
		want Source
		ok   bool
	}{
		{"issue-tracker", IssueTracker, true},
		{"jira", IssueTracker, true},
		{"Slack", Chat, true},
		{" email ", Mail, true},
		{"gdrive", Drive, true},
		{"confluence", Wiki, true},
		{"events", Calendar, true},
		{"github", CodeHost, true},
		{"CODE-HOST", CodeHost, true},
		{"ftp", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := Canonical(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("Canonical(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestAllAreValid(t *testing.T) {
	all := All()
	if len(all) != 7 {
		t.Fatalf("expected 7 sources, got %d", len(all))
	}
	for _, s := range all {
		if !s.IsValid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Source("ftp").IsValid() {
		t.Error("unknown tag should be invalid")
	}
}
