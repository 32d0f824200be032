package schema

import "testing"

func TestDeterministicIDs(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"commit", CommitID("abc123"), "commit:abc123"},
		{"file", FileID("src/main.go"), "file:src/main.go"},
		{"pr platformed", PRID("github", 42), "pr:github:42"},
		{"pr opaque platform", PRID("", 42), "pr:42"},
		{"pr opaque id", PROpaqueID("gh-uuid-1"), "pr:gh-uuid-1"},
		{"issue", IssueID("jira", 7), "issue:jira:7"},
		{"adr", ADRID("0001-use-postgres.md"), "adr:0001-use-postgres.md"},
		{"simulation", SimulationID("sim_abc"), "simulation:sim_abc"},
		{"metric", MetricID("sim_abc", "error_rate_pct"), "metric:sim_abc:error_rate_pct"},
		{"jira project", JiraProjectID("ENG"), "jira:project:ENG"},
		{"jira issue", JiraIssueID("ENG-1"), "jira:issue:ENG-1"},
		{"linear", LinearID("uuid-1"), "linear:uuid-1"},
		{"notion", NotionID("page", "uuid-2"), "notion:page:uuid-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestRepositoryID_StableAndPathSensitive(t *testing.T) {
	a := RepositoryID("/home/user/repo")
	b := RepositoryID("/home/user/repo")
	c := RepositoryID("/home/user/other-repo")

	if a != b {
		t.Errorf("RepositoryID should be deterministic: %q != %q", a, b)
	}
	if a == c {
		t.Errorf("RepositoryID should differ across distinct paths")
	}
	if len(a) != len("repository:")+32 {
		t.Errorf("RepositoryID should embed a hex md5 digest, got %q", a)
	}
}
