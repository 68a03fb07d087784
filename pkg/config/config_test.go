package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"i3gateway/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir("../.."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	if _, err := Load(""); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if AppConfig.Mud.Name != "GoGateway" {
		t.Fatalf("unexpected mud name: %s", AppConfig.Mud.Name)
	}
	if AppConfig.Router.Primary.Host != "router.starmud.org" {
		t.Fatalf("unexpected router primary host: %s", AppConfig.Router.Primary.Host)
	}
	if AppConfig.Gateway.Port != 8787 {
		t.Fatalf("unexpected gateway port: %d", AppConfig.Gateway.Port)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir("../.."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	if _, err := Load("bootstrap"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if AppConfig.Router.Primary.Host != "router.bootstrap.example.org" {
		t.Fatalf("expected bootstrap router override, got %s", AppConfig.Router.Primary.Host)
	}
	if AppConfig.Logging.Level != "debug" {
		t.Fatalf("expected debug logging override, got %s", AppConfig.Logging.Level)
	}
	// Keys not touched by the override still come from default.yaml.
	if AppConfig.Mud.Name != "GoGateway" {
		t.Fatalf("unexpected mud name after merge: %s", AppConfig.Mud.Name)
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("cmd"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := os.Mkdir(sb.Path("cmd/config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("mud:\n  name: sandbox-mud\n  port: 5000\n")
	if err := sb.WriteFile("cmd/config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	if _, err := Load(""); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if AppConfig.Mud.Name != "sandbox-mud" {
		t.Fatalf("expected mud name sandbox-mud, got %s", AppConfig.Mud.Name)
	}
	if AppConfig.Mud.Port != 5000 {
		t.Fatalf("expected mud port 5000, got %d", AppConfig.Mud.Port)
	}
	// Defaults still apply for keys the sandbox config never set.
	if AppConfig.Gateway.Port != 8787 {
		t.Fatalf("expected default gateway port 8787, got %d", AppConfig.Gateway.Port)
	}
}

func TestLoadConfigMissingFileFallsBackToDefaults(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	if _, err := Load(""); err != nil {
		t.Fatalf("Load should tolerate a missing config file, got: %v", err)
	}
	if AppConfig.Gateway.Port != 8787 {
		t.Fatalf("expected default gateway port 8787, got %d", AppConfig.Gateway.Port)
	}
}

func TestLoadFromEnvUsesI3EnvVariable(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir("../.."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	os.Setenv("I3_ENV", "bootstrap")
	defer os.Unsetenv("I3_ENV")

	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if AppConfig.Logging.Level != "debug" {
		t.Fatalf("expected bootstrap env to be picked up, got level %s", AppConfig.Logging.Level)
	}
}
