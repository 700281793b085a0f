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

package model

import (
	"encoding/json"
	"reflect"

	"github.com/gorse-io/rectool/base/log"
	"go.uber.org/zap"
)

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names
const (
	Lr          ParamName = "Lr"          // learning rate
	Reg         ParamName = "Reg"         // regularization strength of embeddings
	NEpochs     ParamName = "NEpochs"     // number of epochs
	BatchSize   ParamName = "BatchSize"   // number of examples per mini-batch
	RandomState ParamName = "RandomState" // random state (seed)
	Layers      ParamName = "Layers"      // widths of the MLP tower, the first one is the concatenated embedding width
	RegLayers   ParamName = "RegLayers"   // regularization strength of each hidden layer
	MFDim       ParamName = "MFDim"       // width of the factorization slice of each embedding
	Optimizer   ParamName = "Optimizer"   // name of the optimizer, adam or sgd
)

// Params stores hyper-parameters for an model. It is a map between strings
// (names) and interface{}s (values). For example, hyper-parameters for NCF
// is given by:
//
//	model.Params{
//		model.Lr:      0.001,
//		model.NEpochs: 20,
//		model.Layers:  []int{256, 256, 128, 64},
//	}
type Params map[ParamName]interface{}

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

// GetInt gets a integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		case int64:
			return int(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "int"),
				zap.String("actual", reflect.TypeOf(val).Name()))
		}
	}
	return _default
}

// GetInt64 gets a int64 parameter by name. Returns _default if not exists or type doesn't match. The
// type will be converted if given int.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "int64"),
				zap.String("actual", reflect.TypeOf(val).Name()))
		}
	}
	return _default
}

// GetBool gets a bool parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetBool(name ParamName, _default bool) bool {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case bool:
			return val
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "bool"),
				zap.String("actual", reflect.TypeOf(val).Name()))
		}
	}
	return _default
}

func (parameters Params) GetFloat32(name ParamName, _default float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "float32"),
				zap.String("actual", reflect.TypeOf(val).Name()))
		}
	}
	return _default
}

// GetString gets a string parameter. Returns _default if not exists or type doesn't match.
func (parameters Params) GetString(name ParamName, _default string) string {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case string:
			return val
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "string"),
				zap.String("actual", reflect.TypeOf(val).Name()))
		}
	}
	return _default
}

// GetIntSlice gets a list of integers. Lists decoded from JSON or TOML ([]any, []int64, []float64) are
// converted. Returns _default if not exists or any element doesn't match.
func (parameters Params) GetIntSlice(name ParamName, _default []int) []int {
	val, exist := parameters[name]
	if !exist {
		return _default
	}
	switch val := val.(type) {
	case []int:
		return val
	case []int64:
		ret := make([]int, len(val))
		for i, v := range val {
			ret[i] = int(v)
		}
		return ret
	case []any:
		ret := make([]int, len(val))
		for i, v := range val {
			switch v := v.(type) {
			case int:
				ret[i] = v
			case int64:
				ret[i] = int(v)
			case float64:
				if v != float64(int(v)) {
					return sliceMismatch(name, "[]int", val, _default)
				}
				ret[i] = int(v)
			default:
				return sliceMismatch(name, "[]int", val, _default)
			}
		}
		return ret
	}
	return sliceMismatch(name, "[]int", val, _default)
}

// GetFloat32Slice gets a list of floats. Returns _default if not exists or any element doesn't match.
func (parameters Params) GetFloat32Slice(name ParamName, _default []float32) []float32 {
	val, exist := parameters[name]
	if !exist {
		return _default
	}
	switch val := val.(type) {
	case []float32:
		return val
	case []float64:
		ret := make([]float32, len(val))
		for i, v := range val {
			ret[i] = float32(v)
		}
		return ret
	case []any:
		ret := make([]float32, len(val))
		for i, v := range val {
			switch v := v.(type) {
			case float64:
				ret[i] = float32(v)
			case float32:
				ret[i] = v
			case int:
				ret[i] = float32(v)
			case int64:
				ret[i] = float32(v)
			default:
				return sliceMismatch(name, "[]float32", val, _default)
			}
		}
		return ret
	}
	return sliceMismatch(name, "[]float32", val, _default)
}

func sliceMismatch[T any](name ParamName, expect string, val any, _default T) T {
	log.Logger().Error("type mismatch",
		zap.String("param", string(name)),
		zap.String("expect", expect),
		zap.String("actual", reflect.TypeOf(val).String()))
	return _default
}

func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params)
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

func (parameters Params) ToString() string {
	b, err := json.Marshal(parameters)
	if err != nil {
		log.Logger().Fatal("failed to marshal params", zap.Error(err))
	}
	return string(b)
}
