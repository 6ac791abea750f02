package client

import (
	"slices"
	"testing"

	"deployd/pkg/sdk/defaults"
)

func TestDialStdioRemoteArgs(t *testing.T) {
	t.Parallel()

	opts := SSHOptions{}.withDefaults()
	testCases := []struct {
		name string
		user string
		want []string
	}{
		{
			name: "root runs directly",
			user: "root",
			want: []string{defaultRemoteBinary, "dial-stdio", "--socket", defaults.RemoteSocketPath},
		},
		{
			name: "no user runs directly",
			want: []string{defaultRemoteBinary, "dial-stdio", "--socket", defaults.RemoteSocketPath},
		},
		{
			name: "other users go through sudo",
			user: "ops",
			want: []string{"sudo", "-n", defaultRemoteBinary, "dial-stdio", "--socket", defaults.RemoteSocketPath},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := dialStdioRemoteArgs(tc.user, opts); !slices.Equal(got, tc.want) {
				t.Fatalf("dialStdioRemoteArgs(%q) = %q, want %q", tc.user, got, tc.want)
			}
		})
	}
}

func TestSSHArgs(t *testing.T) {
	t.Parallel()

	base := []string{"-T", "-o", "BatchMode=yes", "-o", "StrictHostKeyChecking=accept-new"}
	testCases := []struct {
		name   string
		target string
		opts   SSHOptions
		want   []string
	}{
		{
			name:   "defaults use the remote socket",
			target: "root@deploy-1",
			want: append(slices.Clone(base), "root@deploy-1",
				defaultRemoteBinary, "dial-stdio", "--socket", defaults.RemoteSocketPath),
		},
		{
			name:   "configured port key and socket",
			target: "ops@deploy-1",
			opts:   SSHOptions{Port: 2222, KeyPath: "/keys/deploy", RemoteSocket: "/run/d.sock", Binary: "/opt/deployd"},
			want: append(slices.Clone(base), "-p", "2222", "-i", "/keys/deploy", "ops@deploy-1",
				"sudo", "-n", "/opt/deployd", "dial-stdio", "--socket", "/run/d.sock"),
		},
		{
			name:   "url port wins over configured port",
			target: "ssh://root@deploy-1:2200",
			opts:   SSHOptions{Port: 2222},
			want: append(slices.Clone(base), "-p", "2200", "root@deploy-1",
				defaultRemoteBinary, "dial-stdio", "--socket", defaults.RemoteSocketPath),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			target, err := parseSSHTarget(tc.target)
			if err != nil {
				t.Fatalf("parseSSHTarget(%q) error = %v", tc.target, err)
			}
			if got := sshArgs(target, tc.opts.withDefaults()); !slices.Equal(got, tc.want) {
				t.Fatalf("sshArgs() = %q\nwant %q", got, tc.want)
			}
		})
	}
}

func TestParseSSHTarget(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw     string
		want    sshTarget
		wantErr bool
	}{
		{raw: "ops@deploy-1", want: sshTarget{dest: "ops@deploy-1", user: "ops"}},
		{raw: "ssh://deploy-1", want: sshTarget{dest: "deploy-1"}},
		{raw: "ssh://ops@deploy-1:22", want: sshTarget{dest: "ops@deploy-1", user: "ops", port: 22}},
		{raw: "@deploy-1", wantErr: true},
		{raw: "ops@", wantErr: true},
		{raw: "ssh://ops@deploy-1:99999", wantErr: true},
		{raw: "ssh://ops@deploy-1/run/d.sock", wantErr: true},
		{raw: "  ", wantErr: true},
	}
	for _, tc := range testCases {
		got, err := parseSSHTarget(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseSSHTarget(%q) = %+v, want error", tc.raw, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseSSHTarget(%q) error = %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseSSHTarget(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestIsSSHTarget(t *testing.T) {
	t.Parallel()

	for target, want := range map[string]bool{
		"ops@deploy-1":          true,
		"ssh://deploy-1":        true,
		"/var/run/deployd.sock": false,
	} {
		if got := isSSHTarget(target); got != want {
			t.Fatalf("isSSHTarget(%q) = %v, want %v", target, got, want)
		}
	}
}
