package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setIdentityEnv(t *testing.T, env string) {
	t.Helper()
	t.Setenv(envAppEnv, env)
	t.Setenv(envAppServiceName, "order-service")
	t.Setenv(envAppServiceVersion, "1.0.0")
	t.Setenv(envConfigFile, "")
	t.Setenv(envConfigDir, "")
	t.Setenv(envConfigName, "")
}

func TestNewAppConfig(t *testing.T) {
	t.Run("resolves default config file from environment name", func(t *testing.T) {
		// Arrange
		setIdentityEnv(t, "local")

		// Act
		cfg, err := newAppConfig()

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "local", cfg.Environment)
		assert.Equal(t, "order-service", cfg.ServiceName)
		assert.Equal(t, "1.0.0", cfg.ServiceVersion)
		assert.Equal(t, filepath.Join(defaultConfigDir, "config.local.yaml"), cfg.ConfigFile)
	})

	t.Run("config file overrides dir and name", func(t *testing.T) {
		// Arrange
		setIdentityEnv(t, "local")
		t.Setenv(envConfigDir, "/etc/outbox")
		t.Setenv(envConfigFile, "/custom/relay.yaml")

		// Act
		cfg, err := newAppConfig()

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "/custom/relay.yaml", cfg.ConfigFile)
	})

	t.Run("dir and name are combined", func(t *testing.T) {
		// Arrange
		setIdentityEnv(t, "staging")
		t.Setenv(envConfigDir, "/etc/outbox")
		t.Setenv(envConfigName, "relay")

		// Act
		cfg, err := newAppConfig()

		// Assert
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/etc/outbox", "relay.yaml"), cfg.ConfigFile)
	})

	for _, missing := range []string{envAppEnv, envAppServiceName, envAppServiceVersion} {
		t.Run("missing "+missing, func(t *testing.T) {
			// Arrange
			setIdentityEnv(t, "local")
			t.Setenv(missing, "")

			// Act
			_, err := newAppConfig()

			// Assert
			require.Error(t, err)
			assert.Contains(t, err.Error(), missing)
		})
	}
}

func TestNewViper(t *testing.T) {
	t.Run("empty path yields env-only viper", func(t *testing.T) {
		// Arrange
		t.Setenv("OUTBOX_BATCH_SIZE", "42")

		// Act
		v, err := newViper("")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 42, v.GetInt("outbox.batch-size"))
	})

	t.Run("reads yaml file", func(t *testing.T) {
		// Arrange
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("outbox:\n  poll-interval: 1s\n"), 0o600))

		// Act
		v, err := newViper(FilePath(path))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "1s", v.GetString("outbox.poll-interval"))
	})

	t.Run("missing file fails", func(t *testing.T) {
		// Act
		_, err := newViper(FilePath(filepath.Join(t.TempDir(), "absent.yaml")))

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}

func TestResolveFilePath(t *testing.T) {
	app := AppConfig{ConfigFile: "./configs/config.local.yaml"}

	tests := []struct {
		name     string
		opts     []ViperOption
		expected FilePath
	}{
		{name: "app config file by default", expected: "./configs/config.local.yaml"},
		{name: "explicit path", opts: []ViperOption{WithConfigPath("/tmp/x.yaml")}, expected: "/tmp/x.yaml"},
		{name: "disabled", opts: []ViperOption{WithConfigPath("/tmp/x.yaml"), WithoutConfigFile()}, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &viperOptions{}
			for _, opt := range tt.opts {
				opt(o)
			}
			assert.Equal(t, tt.expected, resolveFilePath(o, app))
		})
	}
}
