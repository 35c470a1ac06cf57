// Package config holds runtime tunables for the query engine. A global
// default instance is always valid; Decode overlays a yaml file on top
// and LoadEnv overlays process environment variables on top of that.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Batch    batchConfig    `yaml:"batch"`
	Ingest   ingestConfig   `yaml:"ingest"`
	Query    queryConfig    `yaml:"query"`
	Parallel parallelConfig `yaml:"parallel"`
	Log      logConfig      `yaml:"log"`
}

type batchConfig struct {
	// rows pulled per operator call, capped at what fits in uint16
	Size int `yaml:"size"`
}

type ingestConfig struct {
	// rows accepted from one record load, 0 means unlimited
	MaxRows int `yaml:"max_rows"`
}

type queryConfig struct {
	// emit a per-operator trace alongside every query result
	EnableTrace bool `yaml:"enable_trace"`
}

type parallelConfig struct {
	// run aggregations across partitions? 0 partitions means GOMAXPROCS
	Enable     bool `yaml:"enable"`
	Partitions int  `yaml:"partitions"`
}

type logConfig struct {
	Level string `yaml:"level"` // debug or info
}

var configInstance *Config = &Config{
	Batch: batchConfig{
		Size: 1024 * 8, // rows per batch
	},
	Ingest: ingestConfig{
		MaxRows: 0,
	},
	Query: queryConfig{
		EnableTrace: false,
	},
	Parallel: parallelConfig{
		Enable:     true,
		Partitions: 0, // 0 resolves to GOMAXPROCS at run time
	},
	Log: logConfig{
		Level: "info",
	},
}

func GetConfig() *Config {
	return configInstance
}

// BatchSize clamps the configured size into the uint16 an operator pull
// accepts.
func (c *Config) BatchSize() uint16 {
	if c.Batch.Size < 1 {
		return 1
	}
	if c.Batch.Size > int(^uint16(0)) {
		return ^uint16(0)
	}
	return uint16(c.Batch.Size)
}

// Workers resolves the partition count, defaulting to GOMAXPROCS.
func (c *Config) Workers() int {
	if !c.Parallel.Enable {
		return 1
	}
	if c.Parallel.Partitions > 0 {
		return c.Parallel.Partitions
	}
	return runtime.GOMAXPROCS(0)
}

// overwrite global instance with loaded config
func Decode(filePath string) error {
	suffix := strings.Split(filePath, ".")[len(strings.Split(filePath, "."))-1]
	if suffix != "yaml" && suffix != "yml" {
		return errors.New("file must be a .yaml or .yml file")
	}
	r, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer r.Close()
	config := make(map[string]interface{})
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	mergeConfig(configInstance, config)
	return nil
}

func mergeConfig(dst *Config, src map[string]interface{}) {
	// =============================
	// BATCH
	// =============================
	if batch, ok := src["batch"].(map[string]interface{}); ok {
		if v, ok := batch["size"].(int); ok {
			dst.Batch.Size = v
		}
	}

	// =============================
	// INGEST
	// =============================
	if ing, ok := src["ingest"].(map[string]interface{}); ok {
		if v, ok := ing["max_rows"].(int); ok {
			dst.Ingest.MaxRows = v
		}
	}

	// =============================
	// QUERY
	// =============================
	if query, ok := src["query"].(map[string]interface{}); ok {
		if v, ok := query["enable_trace"].(bool); ok {
			dst.Query.EnableTrace = v
		}
	}

	// =============================
	// PARALLEL
	// =============================
	if par, ok := src["parallel"].(map[string]interface{}); ok {
		if v, ok := par["enable"].(bool); ok {
			dst.Parallel.Enable = v
		}
		if v, ok := par["partitions"].(int); ok {
			dst.Parallel.Partitions = v
		}
	}

	// =============================
	// LOG
	// =============================
	if lg, ok := src["log"].(map[string]interface{}); ok {
		if v, ok := lg["level"].(string); ok {
			dst.Log.Level = v
		}
	}
}

// LoadEnv overlays TABQL_* environment variables, reading a .env file
// first when one is present. Unset variables leave the config untouched.
func LoadEnv() {
	_ = godotenv.Load()

	if v, ok := os.LookupEnv("TABQL_BATCH_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			configInstance.Batch.Size = n
		}
	}
	if v, ok := os.LookupEnv("TABQL_MAX_ROWS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			configInstance.Ingest.MaxRows = n
		}
	}
	if v, ok := os.LookupEnv("TABQL_ENABLE_TRACE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			configInstance.Query.EnableTrace = b
		}
	}
	if v, ok := os.LookupEnv("TABQL_PARALLEL"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			configInstance.Parallel.Enable = b
		}
	}
	if v, ok := os.LookupEnv("TABQL_PARTITIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			configInstance.Parallel.Partitions = n
		}
	}
	if v, ok := os.LookupEnv("TABQL_LOG_LEVEL"); ok {
		configInstance.Log.Level = v
	}
}
