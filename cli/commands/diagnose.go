package commands

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/cacaotrail/cacaotrail/cli/config"
	"github.com/cacaotrail/cacaotrail/cli/styles"
	"github.com/spf13/cobra"
)

// NewDiagnoseCommand creates the diagnose command.
func NewDiagnoseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostic checks",
		Long: `Run diagnostic checks on your cacaotrail setup.

This command verifies:
  • Configuration file validity
  • Database connectivity
  • Ledger schema reachability
  • Projection staleness
  • System resources`,
		Aliases: []string{"diag", "doctor"},
		RunE:    runDiagnose,
	}
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	fmt.Println()
	fmt.Println(styles.Banner())
	fmt.Println()
	fmt.Println(styles.Title.Render("Running Diagnostics"))
	fmt.Println()

	checks := []DiagnosticCheck{
		{Name: "Go Version", Check: checkGoVersion},
		{Name: "Configuration", Check: checkConfiguration},
		{Name: "Database Connection", Check: checkDatabaseConnection},
		{Name: "Ledger", Check: checkLedger},
		{Name: "Projection", Check: checkProjection},
		{Name: "System Resources", Check: checkSystemResources},
	}

	results := make([]CheckResult, 0, len(checks))
	allPassed := true

	for _, check := range checks {
		fmt.Printf("  %s Checking %s... ", styles.IconPending, check.Name)

		result := check.Check()
		results = append(results, result)

		switch result.Status {
		case StatusOK:
			fmt.Println(styles.SuccessStyle.Render("OK"))
		case StatusWarning:
			fmt.Println(styles.WarningStyle.Render("WARNING"))
			allPassed = false
		default:
			fmt.Println(styles.ErrorStyle.Render("FAILED"))
			allPassed = false
		}

		if result.Message != "" {
			fmt.Printf("    %s\n", styles.Muted.Render(result.Message))
		}
	}

	fmt.Println()
	fmt.Println(styles.Divider(50))
	fmt.Println()

	if allPassed {
		fmt.Println(styles.FormatSuccess("All checks passed! Your cacaotrail setup is healthy."))
	} else {
		fmt.Println(styles.FormatWarning("Some checks failed or have warnings."))
		fmt.Println()

		fmt.Println(styles.Subtitle.Render("Recommendations:"))
		for _, r := range results {
			if r.Recommendation != "" {
				fmt.Printf("  %s %s\n", styles.IconArrow, r.Recommendation)
			}
		}
	}

	return nil
}

// CheckStatus represents the status of a diagnostic check.
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// CheckResult represents the result of a diagnostic check.
type CheckResult struct {
	Name           string
	Status         CheckStatus
	Message        string
	Recommendation string
}

func newCheckResult(name string, status CheckStatus, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message}
}

func (r CheckResult) withRecommendation(rec string) CheckResult {
	r.Recommendation = rec
	return r
}

// DiagnosticCheck pairs a check name with its function.
type DiagnosticCheck struct {
	Name  string
	Check func() CheckResult
}

// diagnosticSkip explains why a check could not run.
type diagnosticSkip int

const (
	diagnosticSkipNone diagnosticSkip = iota
	diagnosticSkipNoConfig
	diagnosticSkipMemoryDriver
	diagnosticSkipNoDBURL
)

// setupDiagnosticEnv opens the environment for database-backed checks,
// or reports why the check should be skipped.
func setupDiagnosticEnv(ctx context.Context) (*Env, diagnosticSkip, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, diagnosticSkipNone, err
	}
	if !config.Exists(cwd) {
		if _, _, err := config.FindConfig(cwd); err != nil {
			return nil, diagnosticSkipNoConfig, nil
		}
	}

	cfg, _, err := loadConfigOrDefault()
	if err != nil {
		return nil, diagnosticSkipNone, err
	}
	if cfg.Database.Driver == "memory" {
		return nil, diagnosticSkipMemoryDriver, nil
	}
	if cfg.DatabaseURL() == "" {
		return nil, diagnosticSkipNoDBURL, nil
	}

	env, err := OpenEnv(ctx, cfg)
	if err != nil {
		return nil, diagnosticSkipNone, err
	}
	return env, diagnosticSkipNone, nil
}

func checkGoVersion() CheckResult {
	version := runtime.Version()
	if version < "go1.22" {
		return newCheckResult("Go Version", StatusWarning, version).
			withRecommendation("Upgrade to Go 1.22 or later")
	}
	return newCheckResult("Go Version", StatusOK, version)
}

func checkConfiguration() CheckResult {
	const name = "Configuration"
	cwd, err := os.Getwd()
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Check directory permissions")
	}
	if _, _, err := config.FindConfig(cwd); err != nil {
		return newCheckResult(name, StatusWarning, "No cacaotrail.yaml found").
			withRecommendation("Run 'cacaotrail init' to create a configuration file")
	}
	cfg, _, err := loadConfigOrDefault()
	if err != nil {
		return newCheckResult(name, StatusError, fmt.Sprintf("Invalid config: %v", err)).
			withRecommendation("Check cacaotrail.yaml syntax")
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return newCheckResult(name, StatusWarning, fmt.Sprintf("%d validation errors", len(problems))).
			withRecommendation(problems[0])
	}
	return newCheckResult(name, StatusOK,
		fmt.Sprintf("Project: %s, Driver: %s", cfg.Project.Name, cfg.Database.Driver))
}

func checkDatabaseConnection() CheckResult {
	const name = "Database Connection"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, skip, err := setupDiagnosticEnv(ctx)
	switch skip {
	case diagnosticSkipNoConfig:
		return newCheckResult(name, StatusWarning, "No configuration found").
			withRecommendation("Run 'cacaotrail init' first")
	case diagnosticSkipMemoryDriver:
		return newCheckResult(name, StatusOK, "Using in-memory driver (no connection needed)")
	case diagnosticSkipNoDBURL:
		return newCheckResult(name, StatusWarning, "DATABASE_URL not set").
			withRecommendation("Set DATABASE_URL environment variable")
	}
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Verify database credentials")
	}
	defer env.Close()

	return newCheckResult(name, StatusOK, "Connected")
}

func checkLedger() CheckResult {
	const name = "Ledger"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, skip, err := setupDiagnosticEnv(ctx)
	if skip == diagnosticSkipNoConfig || skip == diagnosticSkipMemoryDriver {
		return newCheckResult(name, StatusOK, "Skipped (memory driver or no config)")
	}
	if skip == diagnosticSkipNoDBURL {
		return newCheckResult(name, StatusWarning, "Skipped (no database URL)")
	}
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Check database connection")
	}
	defer env.Close()

	pos, err := env.Journal.GetLastPosition(ctx)
	if err != nil {
		return newCheckResult(name, StatusWarning, err.Error()).
			withRecommendation("Run 'cacaotrail schema apply' to create the ledger tables")
	}
	return newCheckResult(name, StatusOK, fmt.Sprintf("Ledger reachable, %d records", pos))
}

func checkProjection() CheckResult {
	const name = "Projection"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, skip, err := setupDiagnosticEnv(ctx)
	if skip == diagnosticSkipNoConfig || skip == diagnosticSkipMemoryDriver {
		return newCheckResult(name, StatusOK, "Skipped (memory driver or no config)")
	}
	if skip == diagnosticSkipNoDBURL {
		return newCheckResult(name, StatusWarning, "Skipped (no database URL)")
	}
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Check database connection")
	}
	defer env.Close()

	stale, err := env.Materialized.StaleSubjects(ctx)
	if err != nil {
		return newCheckResult(name, StatusWarning, err.Error()).
			withRecommendation("Run 'cacaotrail schema apply' to create the read model tables")
	}
	if len(stale) > 0 {
		return newCheckResult(name, StatusWarning, fmt.Sprintf("%d stale subject(s)", len(stale))).
			withRecommendation("Run 'cacaotrail projection repair'")
	}
	return newCheckResult(name, StatusOK, "Projection up to date")
}

func checkSystemResources() CheckResult {
	const name = "System Resources"
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	allocMB := float64(m.Alloc) / 1024 / 1024
	sysMB := float64(m.Sys) / 1024 / 1024
	message := fmt.Sprintf("Memory: %.1f MB used, %.1f MB total", allocMB, sysMB)

	return newCheckResult(name, StatusOK, message)
}

// NewVersionCommand creates the version command.
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println()
			fmt.Println(styles.Banner())
			fmt.Println()
			fmt.Println(styles.FormatKeyValue("Version", version))
			fmt.Println(styles.FormatKeyValue("Commit", commit))
			fmt.Println(styles.FormatKeyValue("Built", date))
			fmt.Println(styles.FormatKeyValue("Go", runtime.Version()))
			fmt.Println(styles.FormatKeyValue("OS/Arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)))
			return nil
		},
	}
}
