package github

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *Locator
	}{
		{
			name: "repo_root",
			raw:  "https://github.com/acme/docs",
			want: &Locator{Owner: "acme", Repo: "docs"},
		},
		{
			name: "git_suffix_stripped",
			raw:  "https://github.com/acme/docs.git",
			want: &Locator{Owner: "acme", Repo: "docs"},
		},
		{
			name: "tree_branch_root",
			raw:  "https://github.com/acme/docs/tree/develop",
			want: &Locator{Owner: "acme", Repo: "docs", Branch: "develop"},
		},
		{
			name: "tree_with_path",
			raw:  "https://github.com/acme/docs/tree/main/guides/setup",
			want: &Locator{Owner: "acme", Repo: "docs", Branch: "main", Path: "guides/setup"},
		},
		{
			name: "tree_trailing_slash",
			raw:  "https://github.com/acme/docs/tree/main/guides/",
			want: &Locator{Owner: "acme", Repo: "docs", Branch: "main", Path: "guides"},
		},
		{
			name: "blob_scopes_to_directory",
			raw:  "https://github.com/acme/docs/blob/main/guides/setup.md",
			want: &Locator{Owner: "acme", Repo: "docs", Branch: "main", Path: "guides"},
		},
		{
			name: "blob_at_repo_root",
			raw:  "https://github.com/acme/docs/blob/main/README.md",
			want: &Locator{Owner: "acme", Repo: "docs", Branch: "main", Path: ""},
		},
		{
			name: "owner_only",
			raw:  "https://github.com/acme",
			want: nil,
		},
		{
			name: "not_a_url",
			raw:  "::::",
			want: nil,
		},
		{
			name: "empty",
			raw:  "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ParseRepoURL(tt.raw))
		})
	}
}
