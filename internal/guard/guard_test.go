package guard

import "testing"

func TestGuard_CheckApplication(t *testing.T) {
	g := New(Policy{IgnoreApplications: []string{"*1Password*", "Bank*", "[", "  "}})

	testCases := []struct {
		app     string
		blocked bool
	}{
		{"1Password 8", true},
		{"Chrome - 1password vault", true},
		{"bank of somewhere / login", true},
		{"Gmail", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(tc.app, func(t *testing.T) {
			v := g.CheckApplication(tc.app)
			if (v != nil) != tc.blocked {
				t.Errorf("CheckApplication(%q) = %v, want blocked=%v", tc.app, v, tc.blocked)
			}
			if v != nil && v.Rule != "ignore_applications" {
				t.Errorf("unexpected rule %q", v.Rule)
			}
		})
	}

	if len(g.patterns) != 2 {
		t.Errorf("expected invalid and blank patterns to be dropped, got %v", g.patterns)
	}
}

func TestGuard_CheckTranscript(t *testing.T) {
	g := New(Policy{MinTranscriptChars: 5})

	if v := g.CheckTranscript(" \n\t "); v == nil || v.Rule != "empty_transcript" {
		t.Errorf("expected empty_transcript, got %v", v)
	}
	if v := g.CheckTranscript("hi"); v == nil || v.Rule != "min_transcript_chars" {
		t.Errorf("expected min_transcript_chars, got %v", v)
	}
	if v := g.CheckTranscript("Your code is 847291"); v != nil {
		t.Errorf("expected no violation, got %v", v)
	}
}

func TestDefaultPolicy(t *testing.T) {
	g := New(DefaultPolicy)
	if g.CheckApplication("Bitwarden") == nil {
		t.Error("default policy should suppress password managers")
	}
	if g.Policy().MinTranscriptChars != 1 {
		t.Errorf("unexpected default policy %+v", g.Policy())
	}
}
