package options

import (
	"errors"
	"testing"

	"github.com/arloliu/idxio/errs"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	bits     int
	name     string
	lastCall string
}

func withBits(bits int) Option[*testConfig] {
	return Named("bits", func(c *testConfig) error {
		if bits <= 0 {
			return errors.New("must be positive")
		}
		c.bits = bits
		c.lastCall = "bits"

		return nil
	})
}

func withName(name string) Option[*testConfig] {
	return NoError(func(c *testConfig) {
		c.name = name
		c.lastCall = "name"
	})
}

func TestApply(t *testing.T) {
	t.Run("applies in order", func(t *testing.T) {
		cfg := &testConfig{}
		require.NoError(t, Apply(cfg, withBits(15), withName("pressure")))
		require.Equal(t, 15, cfg.bits)
		require.Equal(t, "pressure", cfg.name)
		require.Equal(t, "name", cfg.lastCall)
	})

	t.Run("stops at first error", func(t *testing.T) {
		cfg := &testConfig{}
		err := Apply(cfg, withBits(-1), withName("never"))
		require.Error(t, err)
		require.ErrorIs(t, err, errs.ErrInvalidOption)
		require.Contains(t, err.Error(), "bits: must be positive")
		require.Empty(t, cfg.name)
	})

	t.Run("keeps sentinel errors", func(t *testing.T) {
		cfg := &testConfig{}
		opt := New(func(*testConfig) error { return errs.ErrInvalidBitPattern })
		err := Apply[*testConfig](cfg, opt)
		require.ErrorIs(t, err, errs.ErrInvalidBitPattern)
		require.NotErrorIs(t, err, errs.ErrInvalidOption)
	})

	t.Run("skips nil options", func(t *testing.T) {
		cfg := &testConfig{}
		require.NoError(t, Apply(cfg, nil, withName("x")))
		require.Equal(t, "x", cfg.name)
	})
}
