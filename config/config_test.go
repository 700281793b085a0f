// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorse-io/rectool/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig("config.toml.template")
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().Dataset, config.Dataset)
	assert.Equal(t, []int{256, 256, 128, 64}, config.Model.Layers)
	assert.Empty(t, config.Model.RegLayers)
	assert.Zero(t, config.Model.MFDim)
	assert.Equal(t, float32(0.001), config.Model.Lr)
	assert.Equal(t, float32(0.01), config.Model.Reg)
	assert.Equal(t, 20, config.Model.NEpochs)
	assert.Equal(t, 256, config.Model.BatchSize)
	assert.Equal(t, "adam", config.Model.Optimizer)
	assert.Equal(t, 1, config.Train.Verbose)
	assert.Equal(t, 10, config.Train.NumTrials)
	assert.Zero(t, config.Train.Timeout)
	assert.False(t, config.Train.SkipDownload)
	assert.Equal(t, "sqlite://rectool.db", config.Tracking.Database)
	assert.Equal(t, "posix", config.Blob.Type)
	assert.Equal(t, "models", config.Blob.Posix.Path)
}

func TestLoadDefaultConfig(t *testing.T) {
	config, err := LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().Model.Layers, config.Model.Layers)
	assert.Equal(t, GetDefaultConfig().Blob, config.Blob)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte(`
[model]
layers = [32, 16, 8]
reg_layers = [0.1, 0.2]
mf_dim = 4
optimizer = "sgd"

[train]
timeout = "1h30m"

[blob]
type = "s3"

[blob.s3]
endpoint = "localhost:9000"
bucket = "rectool"
`), 0644))
	config, err := LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, []int{32, 16, 8}, config.Model.Layers)
	assert.Equal(t, []float32{0.1, 0.2}, config.Model.RegLayers)
	assert.Equal(t, 4, config.Model.MFDim)
	assert.Equal(t, "sgd", config.Model.Optimizer)
	assert.Equal(t, 90*time.Minute, config.Train.Timeout)
	assert.Equal(t, "s3", config.Blob.Type)
	assert.Equal(t, "localhost:9000", config.Blob.S3.Endpoint)
	assert.Equal(t, "rectool", config.Blob.S3.Bucket)
	// untouched sections keep defaults
	assert.Equal(t, "ml-1m", config.Dataset.Type)

	params := config.Model.Params()
	assert.Equal(t, []int{32, 16, 8}, params.GetIntSlice(model.Layers, nil))
	assert.Equal(t, []float32{0.1, 0.2}, params.GetFloat32Slice(model.RegLayers, nil))
	assert.Equal(t, 4, params.GetInt(model.MFDim, 0))
	assert.Equal(t, "sgd", params.GetString(model.Optimizer, ""))
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("RECTOOL_DATASET_TYPE", "ml-10m")
	t.Setenv("RECTOOL_MODEL_LR", "0.05")
	t.Setenv("RECTOOL_MODEL_LAYERS", "16,8")
	t.Setenv("RECTOOL_TRAIN_TIMEOUT", "10s")
	t.Setenv("RECTOOL_TRACKING_DATABASE", "mysql://root@tcp(localhost:3306)/rectool")
	config, err := LoadConfig("config.toml.template")
	assert.NoError(t, err)
	assert.Equal(t, "ml-10m", config.Dataset.Type)
	assert.Equal(t, float32(0.05), config.Model.Lr)
	assert.Equal(t, []int{16, 8}, config.Model.Layers)
	assert.Equal(t, 10*time.Second, config.Train.Timeout)
	assert.Equal(t, "mysql://root@tcp(localhost:3306)/rectool", config.Tracking.Database)
}

func TestValidate(t *testing.T) {
	config := GetDefaultConfig()
	assert.NoError(t, config.Validate())

	config = GetDefaultConfig()
	config.Model.Layers = []int{8}
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))

	config = GetDefaultConfig()
	config.Model.Optimizer = "rmsprop"
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))

	config = GetDefaultConfig()
	config.Dataset.TestSize = 1
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))

	config = GetDefaultConfig()
	config.Blob.Type = "ftp"
	assert.True(t, errors.Is(config.Validate(), errors.NotValid))

	t.Setenv("RECTOOL_MODEL_BATCH_SIZE", "0")
	_, err := LoadConfig("")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestPrepareOptions(t *testing.T) {
	config := GetDefaultConfig()
	opts := config.Dataset.PrepareOptions()
	assert.Equal(t, "ml-1m", opts.DatasetType)
	assert.Equal(t, "movielens", opts.MovieLensPath)
	assert.Equal(t, "train", opts.TrainDataPath)
	assert.Equal(t, "eval", opts.EvalDataPath)
	assert.Equal(t, "test", opts.TestDataPath)
	assert.True(t, opts.Clear)
	assert.Equal(t, 0.2, opts.TestSize)
	assert.Equal(t, int64(42), opts.Seed)
}
