package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arloliu/idxio/errs"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newCommand(&environment{logger: zap.NewNop()})
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

func TestWriteReadInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cli.idx")
	cfg := filepath.Join(dir, "idxio.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("compression: zstd\nbits_per_block: 10\nblocks_per_file: 8\n"), 0o644))

	_, logs, err := execute(t, "write", "--path", path, "--dims", "16,12,8", "--ranks", "3",
		"--vars", "mixed", "--steps", "2", "--config", cfg)
	require.NoError(t, err)
	require.Contains(t, logs, "Dataset written")

	_, logs, err = execute(t, "read", "--path", path, "--ranks", "2", "--all-steps", "--config", cfg)
	require.NoError(t, err)
	require.Contains(t, logs, "Dataset read")

	out, _, err := execute(t, "info", path)
	require.NoError(t, err)
	require.Contains(t, out, "Zstd")
	require.Contains(t, out, "field stress")
	require.Contains(t, out, "time000000000")
	require.Contains(t, out, "time000000001")
}

func TestFieldsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cli.idx")
	fields := filepath.Join(dir, "fields.txt")
	require.NoError(t, os.WriteFile(fields, []byte("(fields)\nheat 1*float32\nid 1*int32\n"), 0o644))

	_, _, err := execute(t, "write", "--path", path, "--dims", "8,8,8", "--ranks", "2", "--fields", fields)
	require.NoError(t, err)
	_, _, err = execute(t, "read", "--path", path, "--ranks", "1")
	require.NoError(t, err)

	out, _, err := execute(t, "info", path)
	require.NoError(t, err)
	require.Contains(t, out, "field heat")
	require.Contains(t, out, "field id")
}

func TestCommandErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.idx")

	_, _, err := execute(t, "write", "--path", path, "--vars", "tensor")
	require.ErrorIs(t, err, errs.ErrInvalidOption)

	_, _, err = execute(t, "write", "--path", path, "--dims", "1,1,1,1,1,1")
	require.ErrorIs(t, err, errs.ErrInvalidOption)

	fields := filepath.Join(t.TempDir(), "fields.txt")
	require.NoError(t, os.WriteFile(fields, []byte("(fields)\nheat float32\n"), 0o644))
	_, _, err = execute(t, "write", "--path", path, "--dims", "4,4,4", "--ranks", "1", "--fields", fields)
	require.ErrorIs(t, err, errs.ErrInvalidDataType)

	_, _, err = execute(t, "--log-level", "loud", "info", path)
	require.Error(t, err)

	_, _, err = execute(t, "info", path)
	require.ErrorIs(t, err, errs.ErrIO)
}
