// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Re-reads the config file and pushes the runtime keys into a store.

package control

// ReloadFile loads path and applies its reloadable keys to store. Keys that
// need a restart (endpoints, sender id) are ignored. Returns the full config
// that was read.
func ReloadFile(store *ConfigStore, path string) (Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return Config{}, err
	}
	store.SetConfig(cfg.Reloadable())
	return cfg, nil
}
