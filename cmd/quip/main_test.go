package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	want := []string{"avatar", "fetch", "friend", "id", "login", "message", "offer", "register", "requests", "serve"}
	var got []string
	for _, c := range root.Commands() {
		if c.Name() == "help" || c.Name() == "completion" {
			continue
		}
		got = append(got, c.Name())
	}
	assert.ElementsMatch(t, want, got)

	friend, _, err := root.Find([]string{"friend", "accept"})
	require.NoError(t, err)
	assert.Equal(t, "accept", friend.Name())
}

func TestInitLogLevel(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	tests := []struct {
		name    string
		config  string
		verbose bool
		want    logrus.Level
	}{
		{"from config", "[client]\nlog_level = warn\n", false, logrus.WarnLevel},
		{"verbose wins", "[client]\nlog_level = warn\n", true, logrus.DebugLevel},
		{"unknown level", "[client]\nlog_level = chatty\n", false, logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &app{configPath: writeConfig(t, tt.config), verbose: tt.verbose}
			require.NoError(t, a.init())
			assert.Equal(t, tt.want, logrus.GetLevel())
		})
	}
}

func TestPassphraseFromEnvironment(t *testing.T) {
	t.Setenv("QUIP_PASSPHRASE", "correct horse battery")
	a := &app{configPath: writeConfig(t, "")}
	require.NoError(t, a.init())
	assert.Equal(t, "correct horse battery", a.passphrase)

	a = &app{configPath: writeConfig(t, ""), passphrase: "from the flag"}
	require.NoError(t, a.init())
	assert.Equal(t, "from the flag", a.passphrase)
}

func TestOpenRejectsShortPassphrase(t *testing.T) {
	t.Setenv("QUIP_PASSPHRASE", "")
	a := &app{configPath: writeConfig(t, "")}
	require.NoError(t, a.init())
	_, err := a.open()
	assert.Error(t, err)
}

func TestIDCommand(t *testing.T) {
	dataDir := t.TempDir()
	cfg := writeConfig(t, "[client]\ndata_directory = "+dataDir+"\n")
	t.Setenv("QUIP_PASSPHRASE", "correct horse battery")

	_, err := run(t, "id", "--config", cfg)
	assert.True(t, errors.Is(err, qerr.ErrNotLoggedIn), "got %v", err)

	st, err := store.OpenFile(dataDir, []byte("correct horse battery"))
	require.NoError(t, err)
	id, err := crypto.NewIdentity("0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d")
	require.NoError(t, err)
	require.NoError(t, st.SaveAccount(store.Account{
		UID:         id.UID,
		Auth:        "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee",
		SigningSeed: id.Seed(),
		BoxPrivate:  id.BoxPrivate(),
	}))
	require.NoError(t, st.Close())

	stdout := captureStdout(t, func() {
		_, err = run(t, "id", "--config", cfg)
	})
	require.NoError(t, err)
	assert.Equal(t, id.UID+"\n", stdout)
}

// captureStdout returns what fn printed with fmt.Print*.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	fn()
	os.Stdout = orig
	require.NoError(t, w.Close())

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	return buf.String()
}
