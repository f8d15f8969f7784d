package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrPluginNotFound is returned when a requested plugin cannot be found.
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrUnknownAction is returned when a plugin does not declare an action.
	ErrUnknownAction = errors.New("unknown plugin action")
	// ErrInvalidConfig is returned when a binding config fails the plugin's schema.
	ErrInvalidConfig = errors.New("invalid plugin config")
)

// ManifestFile is the manifest each plugin directory must contain.
const ManifestFile = "plugin.json"

// Manager discovers plugins in a directory and looks them up by name.
type Manager struct {
	pluginDir string
	plugins   map[string]*Plugin
	mu        sync.RWMutex
}

// NewManager creates a Manager for pluginDir.
func NewManager(pluginDir string) *Manager {
	return &Manager{
		pluginDir: pluginDir,
		plugins:   make(map[string]*Plugin),
	}
}

// Discover rescans the plugin directory. Each subdirectory holding a
// plugin.json is a plugin; unreadable manifests and manifests whose
// configSchema does not compile are skipped.
func (m *Manager) Discover() error {
	plugins := make(map[string]*Plugin)

	info, err := os.Stat(m.pluginDir)
	if os.IsNotExist(err) {
		m.replace(plugins)
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		m.replace(plugins)
		return nil
	}

	entries, err := os.ReadDir(m.pluginDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginPath := filepath.Join(m.pluginDir, entry.Name())
		plugin, err := loadPlugin(pluginPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn().Err(err).Str("path", pluginPath).Msg("skipping plugin")
			}
			continue
		}
		plugins[plugin.Manifest.Name] = plugin
	}

	m.replace(plugins)
	log.Debug().Int("count", len(plugins)).Str("dir", m.pluginDir).Msg("plugins discovered")
	return nil
}

func (m *Manager) replace(plugins map[string]*Plugin) {
	m.mu.Lock()
	m.plugins = plugins
	m.mu.Unlock()
}

func loadPlugin(dir string) (*Plugin, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Name == "" {
		return nil, errors.New("manifest has no name")
	}

	plugin := &Plugin{
		Manifest:   manifest,
		Path:       dir,
		Executable: filepath.Join(dir, manifest.Executable),
	}

	if len(manifest.ConfigSchema) > 0 {
		url := "file://" + filepath.ToSlash(manifestPath)
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, bytes.NewReader(manifest.ConfigSchema)); err != nil {
			return nil, fmt.Errorf("load config schema: %w", err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile config schema: %w", err)
		}
		plugin.schema = schema
	}
	return plugin, nil
}

// Get returns a plugin by name.
func (m *Manager) Get(name string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugin, ok := m.plugins[name]
	if !ok {
		return nil, ErrPluginNotFound
	}
	return plugin, nil
}

// List returns every discovered plugin sorted by name.
func (m *Manager) List() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(m.plugins))
	for _, plugin := range m.plugins {
		plugins = append(plugins, plugin)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest.Name < plugins[j].Manifest.Name
	})
	return plugins
}

// PluginDir returns the plugin directory path.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}

// ValidateConfig checks that the named plugin exists, declares action and
// accepts config under its configSchema. An empty config is validated as {}.
func (m *Manager) ValidateConfig(name, action string, config json.RawMessage) error {
	plugin, err := m.Get(name)
	if err != nil {
		return err
	}
	if !plugin.Manifest.HasAction(action) {
		return fmt.Errorf("%w: %s has no action %q", ErrUnknownAction, name, action)
	}
	if plugin.schema == nil {
		return nil
	}

	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}
	var instance any
	if err := json.Unmarshal(config, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := plugin.schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
