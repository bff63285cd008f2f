package cfg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinykernel/tinyfs/cfg"
)

func TestDefaultConfigValidates(t *testing.T) {
	c := cfg.Default()
	assert.NoError(t, cfg.ValidateConfig(&c))
}

func TestValidateConfigRejectsBadBlockSize(t *testing.T) {
	c := cfg.Default()
	c.Geometry.BlockSizeBytes = 100

	err := cfg.ValidateConfig(&c)

	assert.EqualError(t, err, cfg.BlockSizeTooSmallError)
}

func TestValidateConfigRejectsOpBudgetOverLogSize(t *testing.T) {
	c := cfg.Default()
	c.Runtime.OpMaxNumBlocks = c.Geometry.LogMaxSize + 1

	err := cfg.ValidateConfig(&c)

	assert.EqualError(t, err, cfg.OpMaxNumBlocksInvalidError)
}

func TestValidateConfigRejectsZeroInodes(t *testing.T) {
	c := cfg.Default()
	c.Geometry.NumInodes = 0

	err := cfg.ValidateConfig(&c)

	assert.EqualError(t, err, cfg.NumInodesInvalidError)
}
