package cmd

import (
	"strings"
	"testing"

	"github.com/xiaoqinglee/mason/internal/deps"
)

func TestHumanSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1, "1 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{2684354560, "2.5 GB"},
	}

	for _, tt := range tests {
		got := humanSize(tt.bytes)
		if got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestDescribeStatus(t *testing.T) {
	tests := []struct {
		name string
		dep  *deps.Dep
		want string
	}{
		{
			name: "ok",
			dep:  &deps.Dep{Status: deps.StatusOK},
			want: "ok",
		},
		{
			name: "expected and found",
			dep: &deps.Dep{
				Status: deps.StatusLockMismatch,
				Diag:   deps.Diagnostic{Expected: "abc123", Actual: "def456"},
			},
			want: "lock mismatch (expected abc123, found def456)",
		},
		{
			name: "detail only",
			dep: &deps.Dep{
				Status: deps.StatusBadRequirement,
				Diag:   deps.Diagnostic{Actual: `invalid version "0.1"`},
			},
			want: `requirement not met: invalid version "0.1"`,
		},
	}

	for _, tt := range tests {
		got := describeStatus(tt.dep)
		if got != tt.want {
			t.Errorf("%s: describeStatus = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestStatusIconCoversAllStatuses(t *testing.T) {
	statuses := []deps.Status{
		deps.StatusOK,
		deps.StatusUnavailable,
		deps.StatusDiverged,
		deps.StatusDivergedReq,
		deps.StatusOverridden,
		deps.StatusLockMismatch,
		deps.StatusLockOutdated,
		deps.StatusRuntimeMismatch,
		deps.StatusSCMChanged,
		deps.StatusEnvChanged,
		deps.StatusBadRequirement,
	}

	for _, st := range statuses {
		if icon := statusIcon(st); strings.TrimSpace(icon) == "" {
			t.Errorf("statusIcon(%v) is empty", st)
		}
	}
}
