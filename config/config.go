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
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/rectool/dataset"
	"github.com/gorse-io/rectool/model"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration of rectool.
type Config struct {
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Model    ModelConfig    `mapstructure:"model"`
	Train    TrainConfig    `mapstructure:"train"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Blob     BlobConfig     `mapstructure:"blob"`
}

// DatasetConfig is the configuration of MovieLens preparation.
type DatasetConfig struct {
	Type          string  `mapstructure:"type" validate:"required"`
	MovieLensPath string  `mapstructure:"movielens_path" validate:"required"`
	TrainDataPath string  `mapstructure:"train_data_path" validate:"required"`
	EvalDataPath  string  `mapstructure:"eval_data_path" validate:"required"`
	TestDataPath  string  `mapstructure:"test_data_path" validate:"required"`
	Clear         bool    `mapstructure:"clear"`
	BaseURL       string  `mapstructure:"base_url" validate:"required,url"`
	TestSize      float64 `mapstructure:"test_size" validate:"gt=0,lt=1"`
	Seed          int64   `mapstructure:"seed"`
}

func (c *DatasetConfig) PrepareOptions() dataset.PrepareOptions {
	return dataset.PrepareOptions{
		DatasetType:   c.Type,
		MovieLensPath: c.MovieLensPath,
		TrainDataPath: c.TrainDataPath,
		EvalDataPath:  c.EvalDataPath,
		TestDataPath:  c.TestDataPath,
		Clear:         c.Clear,
		BaseURL:       c.BaseURL,
		TestSize:      c.TestSize,
		Seed:          c.Seed,
	}
}

// ModelConfig holds hyper-parameters of NCF.
type ModelConfig struct {
	Layers      []int     `mapstructure:"layers" validate:"min=2,dive,gt=0"`
	RegLayers   []float32 `mapstructure:"reg_layers" validate:"dive,gte=0"`
	MFDim       int       `mapstructure:"mf_dim" validate:"gte=0"`
	Lr          float32   `mapstructure:"lr" validate:"gt=0"`
	Reg         float32   `mapstructure:"reg" validate:"gte=0"`
	NEpochs     int       `mapstructure:"n_epochs" validate:"gt=0"`
	BatchSize   int       `mapstructure:"batch_size" validate:"gt=0"`
	Optimizer   string    `mapstructure:"optimizer" validate:"oneof=adam sgd"`
	RandomState int64     `mapstructure:"random_state"`
}

// Params converts the configuration into model hyper-parameters. Empty reg_layers and zero mf_dim are
// left out so that the model defaults apply.
func (c *ModelConfig) Params() model.Params {
	params := model.Params{
		model.Layers:      c.Layers,
		model.Lr:          c.Lr,
		model.Reg:         c.Reg,
		model.NEpochs:     c.NEpochs,
		model.BatchSize:   c.BatchSize,
		model.Optimizer:   c.Optimizer,
		model.RandomState: c.RandomState,
	}
	if len(c.RegLayers) > 0 {
		params[model.RegLayers] = c.RegLayers
	}
	if c.MFDim > 0 {
		params[model.MFDim] = c.MFDim
	}
	return params
}

// TrainConfig is the configuration of training and tuning.
type TrainConfig struct {
	Verbose      int           `mapstructure:"verbose" validate:"gt=0"`
	NumTrials    int           `mapstructure:"num_trials" validate:"gt=0"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gte=0"`
	SkipDownload bool          `mapstructure:"skip_download"`
}

// TrackingConfig is the configuration of the experiment tracking database.
type TrackingConfig struct {
	Database    string `mapstructure:"database" validate:"required"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// BlobConfig is the configuration of the model artifact store.
type BlobConfig struct {
	Type  string      `mapstructure:"type" validate:"oneof=posix s3 gcs azure"`
	Posix PosixConfig `mapstructure:"posix"`
	S3    S3Config    `mapstructure:"s3"`
	GCS   GCSConfig   `mapstructure:"gcs"`
	Azure AzureConfig `mapstructure:"azure"`
}

type PosixConfig struct {
	Path string `mapstructure:"path"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureConfig struct {
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Endpoint         string `mapstructure:"endpoint"`
	Container        string `mapstructure:"container"`
	Prefix           string `mapstructure:"prefix"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Type:          "ml-1m",
			MovieLensPath: "movielens",
			TrainDataPath: "train",
			EvalDataPath:  "eval",
			TestDataPath:  "test",
			Clear:         true,
			BaseURL:       dataset.DefaultBaseURL,
			TestSize:      dataset.DefaultTestSize,
			Seed:          dataset.DefaultSeed,
		},
		Model: ModelConfig{
			Layers:    []int{256, 256, 128, 64},
			Lr:        0.001,
			Reg:       0.01,
			NEpochs:   20,
			BatchSize: 256,
			Optimizer: "adam",
		},
		Train: TrainConfig{
			Verbose:   1,
			NumTrials: 10,
		},
		Tracking: TrackingConfig{
			Database: "sqlite://rectool.db",
		},
		Blob: BlobConfig{
			Type:  "posix",
			Posix: PosixConfig{Path: "models"},
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [dataset]
	viper.SetDefault("dataset.type", defaultConfig.Dataset.Type)
	viper.SetDefault("dataset.movielens_path", defaultConfig.Dataset.MovieLensPath)
	viper.SetDefault("dataset.train_data_path", defaultConfig.Dataset.TrainDataPath)
	viper.SetDefault("dataset.eval_data_path", defaultConfig.Dataset.EvalDataPath)
	viper.SetDefault("dataset.test_data_path", defaultConfig.Dataset.TestDataPath)
	viper.SetDefault("dataset.clear", defaultConfig.Dataset.Clear)
	viper.SetDefault("dataset.base_url", defaultConfig.Dataset.BaseURL)
	viper.SetDefault("dataset.test_size", defaultConfig.Dataset.TestSize)
	viper.SetDefault("dataset.seed", defaultConfig.Dataset.Seed)
	// [model]
	viper.SetDefault("model.layers", defaultConfig.Model.Layers)
	viper.SetDefault("model.reg_layers", []float32{})
	viper.SetDefault("model.mf_dim", 0)
	viper.SetDefault("model.lr", defaultConfig.Model.Lr)
	viper.SetDefault("model.reg", defaultConfig.Model.Reg)
	viper.SetDefault("model.n_epochs", defaultConfig.Model.NEpochs)
	viper.SetDefault("model.batch_size", defaultConfig.Model.BatchSize)
	viper.SetDefault("model.optimizer", defaultConfig.Model.Optimizer)
	viper.SetDefault("model.random_state", defaultConfig.Model.RandomState)
	// [train]
	viper.SetDefault("train.verbose", defaultConfig.Train.Verbose)
	viper.SetDefault("train.num_trials", defaultConfig.Train.NumTrials)
	viper.SetDefault("train.timeout", defaultConfig.Train.Timeout)
	viper.SetDefault("train.skip_download", defaultConfig.Train.SkipDownload)
	// [tracking]
	viper.SetDefault("tracking.database", defaultConfig.Tracking.Database)
	viper.SetDefault("tracking.table_prefix", defaultConfig.Tracking.TablePrefix)
	// [blob]
	viper.SetDefault("blob.type", defaultConfig.Blob.Type)
	viper.SetDefault("blob.posix.path", defaultConfig.Blob.Posix.Path)
	for _, key := range []string{
		"blob.s3.endpoint", "blob.s3.access_key_id", "blob.s3.secret_access_key", "blob.s3.bucket", "blob.s3.prefix",
		"blob.gcs.bucket", "blob.gcs.prefix", "blob.gcs.credentials_file",
		"blob.azure.account_name", "blob.azure.account_key", "blob.azure.connection_string",
		"blob.azure.endpoint", "blob.azure.container", "blob.azure.prefix",
	} {
		viper.SetDefault(key, "")
	}
	viper.SetDefault("blob.s3.use_ssl", false)
}

// LoadConfig loads configuration from a TOML file. Every key can be overridden by an environment variable
// named RECTOOL_<SECTION>_<KEY>, such as RECTOOL_MODEL_LR. An empty path loads defaults and environment
// variables only.
func LoadConfig(path string) (*Config, error) {
	viper.Reset()
	setDefault()
	viper.SetEnvPrefix("RECTOOL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if path != "" {
		viper.SetConfigType("toml")
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := viper.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid configuration")
	}
	return nil
}
