// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads cmd/exocore-sim's boot configuration: a TOML file
// unmarshaled by go-toml/v2, in the style of AlephTX-aleph-tx/feeder/
// config, with optional environment overrides loaded via godotenv before
// the file is parsed. Neither the IPC core (ring/heap/frame) nor the
// scheduler core import this package; it is wired only from cmd/
// exocore-sim, keeping "how the demo was configured" out of the core.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config is the full set of knobs cmd/exocore-sim needs to boot the
// frame/heap/stack/sched/ring subsystems.
type Config struct {
	Scheduler SchedulerConfig `toml:"scheduler"`
	Heap      HeapConfig      `toml:"heap"`
	Ring      RingConfig      `toml:"ring"`
}

// SchedulerConfig configures the scheduler's CPU topology and default
// quantum.
type SchedulerConfig struct {
	CPUCount        int    `toml:"cpu_count"`
	DefaultQuantumUs uint64 `toml:"default_quantum_us"`
	MaxThreads      int    `toml:"max_threads"`
}

// HeapConfig configures the heap's backing region.
type HeapConfig struct {
	RegionBytes int `toml:"region_bytes"`
	NumaDomains int `toml:"numa_domains"`
}

// RingConfig configures the IPC ring's default capacities.
type RingConfig struct {
	Capacity         int `toml:"capacity"`
	ZeroCopyMaxBytes int `toml:"zero_copy_max_bytes"`
}

// Default returns the configuration cmd/exocore-sim boots with when no
// file is given: one CPU, a 10ms default quantum, a 16MiB heap region,
// and a 256-entry ring.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{CPUCount: 1, DefaultQuantumUs: 10_000, MaxThreads: 4096},
		Heap:      HeapConfig{RegionBytes: 16 << 20, NumaDomains: 1},
		Ring:      RingConfig{Capacity: 256, ZeroCopyMaxBytes: 1 << 20},
	}
}

// Load reads path as TOML into Config, starting from Default() so any
// field the file omits keeps its default. It is the struct-config half
// of AlephTX-aleph-tx/feeder's two-step "dotenv then struct config"
// pattern; call LoadDotenv first if environment overrides should apply.
func Load(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDotenv loads path (typically ".env") into the process environment
// via godotenv, the same first step AlephTX-aleph-tx/feeder takes before
// parsing its own TOML config. A missing file is not an error: env
// overrides are optional.
func LoadDotenv(path string) error {
	err := godotenv.Load(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// env prefix every override key shares, matching the spec's "no
// environment variable is part of the core" boundary: these only ever
// feed cmd/exocore-sim's own Config, never the scheduler or ring
// packages directly.
const envPrefix = "EXOCORE_"

// ApplyEnvOverrides overwrites any field in c whose corresponding
// EXOCORE_* environment variable is set, called after LoadDotenv has
// populated the process environment and Load has parsed the file.
func (c *Config) ApplyEnvOverrides() {
	if v, ok := lookupInt(envPrefix + "SCHEDULER_CPU_COUNT"); ok {
		c.Scheduler.CPUCount = v
	}
	if v, ok := lookupUint64(envPrefix + "SCHEDULER_DEFAULT_QUANTUM_US"); ok {
		c.Scheduler.DefaultQuantumUs = v
	}
	if v, ok := lookupInt(envPrefix + "SCHEDULER_MAX_THREADS"); ok {
		c.Scheduler.MaxThreads = v
	}
	if v, ok := lookupInt(envPrefix + "HEAP_REGION_BYTES"); ok {
		c.Heap.RegionBytes = v
	}
	if v, ok := lookupInt(envPrefix + "HEAP_NUMA_DOMAINS"); ok {
		c.Heap.NumaDomains = v
	}
	if v, ok := lookupInt(envPrefix + "RING_CAPACITY"); ok {
		c.Ring.Capacity = v
	}
	if v, ok := lookupInt(envPrefix + "RING_ZERO_COPY_MAX_BYTES"); ok {
		c.Ring.ZeroCopyMaxBytes = v
	}
}

func lookupInt(key string) (int, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func lookupUint64(key string) (uint64, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
