package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Version string     `yaml:"version"`
	Engine  EngineConf `yaml:"engine"`
	Graph   GraphConf  `yaml:"graph"`
	Store   StoreConf  `yaml:"store"`
	Server  ServerConf `yaml:"server"`
	Log     LogConf    `yaml:"log"`
}

// EngineConf holds tick and queue settings.
type EngineConf struct {
	TickIntervalMs int  `yaml:"tick_interval_ms"` // 0 = no periodic ticks
	QueueDepth     int  `yaml:"queue_depth"`
	TickTimeoutMs  int  `yaml:"tick_timeout_ms"`
	BufferSize     int  `yaml:"buffer_size"`
	NoSort         bool `yaml:"no_sort"`
}

// TickInterval converts TickIntervalMs.
func (e EngineConf) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalMs) * time.Millisecond
}

// TickTimeout converts TickTimeoutMs.
func (e EngineConf) TickTimeout() time.Duration {
	return time.Duration(e.TickTimeoutMs) * time.Millisecond
}

// GraphConf names the graph record loaded at startup.
type GraphConf struct {
	Name   string `yaml:"name"`   // record name in the store
	Path   string `yaml:"path"`   // optional file, overrides the store
	Format string `yaml:"format"` // json | yaml; empty = from the extension
	Watch  bool   `yaml:"watch"`  // reload the graph when Path changes
}

// StoreConf selects where graph records are kept.
type StoreConf struct {
	Driver   string `yaml:"driver"` // file | badger
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"` // badger only
}

type ServerConf struct {
	Addr string `yaml:"addr"`
}

type LogConf struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}
