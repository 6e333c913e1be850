//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryDir = "bin"
	goFlags   = "-v"
	ldFlags   = "-s -w"
)

// All lints, tests and builds.
func All() error {
	mg.SerialDeps(Vet, Test)
	return Build()
}

// ============================================================================
// Build targets
// ============================================================================

// Build builds the relay and the login CLI.
func Build() error {
	if err := BuildRelay(); err != nil {
		return err
	}
	return BuildLogin()
}

// BuildRelay builds the relay service.
func BuildRelay() error {
	fmt.Println("Building relay...")
	return build("oauthrelay", "./services/relay/cmd")
}

// BuildLogin builds the oauthlogin CLI.
func BuildLogin() error {
	fmt.Println("Building login CLI...")
	return build("oauthlogin", "./services/login/cmd")
}

func build(name, pkg string) error {
	if err := os.MkdirAll(binaryDir, 0755); err != nil {
		return err
	}
	return sh.Run("go", "build", goFlags, "-ldflags", ldFlags, "-o", filepath.Join(binaryDir, name), pkg)
}

// ============================================================================
// Development targets
// ============================================================================

// Run runs the relay locally. Credentials come from the environment or relay.yaml.
func Run() error {
	return sh.RunV("go", "run", "./services/relay/cmd")
}

// Login runs the login CLI against a local relay.
func Login() error {
	return sh.RunV("go", "run", "./services/login/cmd", "login")
}

// ============================================================================
// Testing
// ============================================================================

// Test runs all tests.
func Test() error {
	return sh.Run("go", "test", "-v", "-race", "-cover", "./...")
}

// TestUnit runs unit tests only.
func TestUnit() error {
	return sh.Run("go", "test", "-v", "-race", "-cover", "-short", "./...")
}

// TestIntegration runs the redis and nats tests. OAUTHRELAY_TEST_REDIS and
// OAUTHRELAY_TEST_NATS must point at running servers.
func TestIntegration() error {
	return sh.RunWith(map[string]string{
		"OAUTHRELAY_TEST_REDIS": envOr("OAUTHRELAY_TEST_REDIS", "localhost:6379"),
		"OAUTHRELAY_TEST_NATS":  envOr("OAUTHRELAY_TEST_NATS", "nats://localhost:4222"),
	}, "go", "test", "-v", "-race", "./services/shared/...", "./services/login/...")
}

// TestCoverage generates test coverage report.
func TestCoverage() error {
	if err := sh.Run("go", "test", "-v", "-race", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	if err := sh.Run("go", "tool", "cover", "-html=coverage.out", "-o", "coverage.html"); err != nil {
		return err
	}
	fmt.Println("Coverage report generated: coverage.html")
	return nil
}

// ============================================================================
// Code quality
// ============================================================================

// Lint runs the linter.
func Lint() error {
	return sh.Run("golangci-lint", "run", "./...")
}

// Fmt formats code.
func Fmt() error {
	if err := sh.Run("go", "fmt", "./..."); err != nil {
		return err
	}
	return sh.Run("gofumpt", "-l", "-w", ".")
}

// Vet runs go vet.
func Vet() error {
	return sh.Run("go", "vet", "./...")
}

// Tidy tidies and verifies go modules.
func Tidy() error {
	if err := sh.Run("go", "mod", "tidy"); err != nil {
		return err
	}
	return sh.Run("go", "mod", "verify")
}

// SecurityScan runs security scanner.
func SecurityScan() error {
	return sh.Run("gosec", "./...")
}

// ============================================================================
// Cleanup
// ============================================================================

// Clean cleans build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	_ = os.Remove("coverage.out")
	_ = os.Remove("coverage.html")
	return sh.Run("go", "clean", "-cache")
}

// InstallTools installs development tools.
func InstallTools() error {
	fmt.Println("Installing development tools...")
	for _, module := range []string{
		"github.com/golangci/golangci-lint/cmd/golangci-lint@latest",
		"mvdan.cc/gofumpt@latest",
		"github.com/securego/gosec/v2/cmd/gosec@latest",
	} {
		if err := sh.Run("go", "install", module); err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
