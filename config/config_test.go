package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subnetops/regd/config"
)

func TestHexKeyUnmarshalFlag(t *testing.T) {
	t.Parallel()

	var k config.HexKey
	require.NoError(t, k.UnmarshalFlag("00ff10"))
	require.Equal(t, []byte{0x00, 0xff, 0x10}, k.Bytes())

	require.NoError(t, k.UnmarshalFlag("0x00ff10"))
	require.Equal(t, []byte{0x00, 0xff, 0x10}, k.Bytes())

	require.ErrorContains(t, k.UnmarshalFlag("not-hex"), "decoding key material")
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	require.NotNil(t, cfg.Registration)
	require.NoError(t, cfg.Registration.Validate())
	require.NotEmpty(t, cfg.Endpoint)
	require.NotEmpty(t, cfg.ConfigFile)
	require.Contains(t, cfg.LogFile(), "regd.log")
}

func TestSetupConfigValidatesRegistration(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.RegdDir = t.TempDir()
	cfg.Registration.PartitionCount = 2
	cfg.Registration.PartitionIndex = 5

	_, err := config.SetupConfig(cfg)
	require.ErrorContains(t, err, "partition index out of range")
}

func TestSetupConfigCreatesDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir() + "/nested/regd"
	cfg := config.DefaultConfig()
	cfg.RegdDir = dir

	cfg, err := config.SetupConfig(cfg)
	require.NoError(t, err)
	require.DirExists(t, cfg.RegdDir)
	require.DirExists(t, cfg.LogDir)
}
