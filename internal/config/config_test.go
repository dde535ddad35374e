package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadDecayShape(t *testing.T) {
	cfg := Default()
	cfg.Decay.Shape = "quadratic"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeWeightPerStep(t *testing.T) {
	cfg := Default()
	cfg.Decay.WeightPerStep = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSmallMinClusterSize(t *testing.T) {
	cfg := Default()
	cfg.Clustering.MinClusterSize = 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownMetric(t *testing.T) {
	cfg := Default()
	cfg.Clustering.Metric = "manhattan"
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("ECM_STORAGE_DB_PATH", "/tmp/custom.db")
	t.Setenv("ECM_RETRIEVAL_RRF_CONSTANT", "42")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.Storage.DBPath)
	assert.Equal(t, 42, cfg.Retrieval.RRFConstant)
}
