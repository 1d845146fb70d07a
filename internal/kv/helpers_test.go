package kv

import "inkwell/internal/config"

func storageConfig(typ, dir string) config.StorageConfig {
	return config.StorageConfig{Type: typ, DataDir: dir}
}
