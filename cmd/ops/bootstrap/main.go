// Package main implements the bootstrap CLI for eventbell deployments.
//
// It stores the service secrets in AWS SSM Parameter Store and prints the
// *_SSM_PARAM variables that point the services at them. Values are taken
// from the environment, or prompted for on stdin.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=prod --profile=eventbell-prod --overwrite
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: uses default credential chain)")
	regionFlag := flag.String("region", "ap-northeast-1", "AWS region")
	overwriteFlag := flag.Bool("overwrite", false, "Replace parameters that already exist")
	flag.Parse()

	if err := validateEnv(*envFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stdin := bufio.NewReader(os.Stdin)
	if *envFlag == "prod" && !confirmProduction(stdin, os.Stderr, *regionFlag) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		return
	}

	var opts []func(*awsconfig.LoadOptions) error
	if *regionFlag != "" {
		opts = append(opts, awsconfig.WithRegion(*regionFlag))
	}
	if *profileFlag != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(*profileFlag))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Error("loading AWS config failed", "error", err)
		os.Exit(1)
	}

	runner := &Runner{
		SSM:       NewSSMManager(awsCfg, *envFlag, logger),
		Secrets:   Inventory,
		Lookup:    os.LookupEnv,
		In:        stdin,
		Out:       os.Stdout,
		Prompt:    os.Stderr,
		Overwrite: *overwriteFlag,
	}
	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	logger.Info("bootstrap completed", "env", *envFlag, "region", *regionFlag)
}

func validateEnv(env string) error {
	if env == "" {
		return fmt.Errorf("--env is required")
	}
	if !validEnvironments[env] {
		return fmt.Errorf("invalid environment %q (must be dev, staging, or prod)", env)
	}
	return nil
}

// confirmProduction returns true only when the operator types "yes".
func confirmProduction(in io.Reader, out io.Writer, region string) bool {
	fmt.Fprintln(out, "WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintf(out, "  Region: %s\n", region)
	fmt.Fprint(out, "Type 'yes' to continue: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}
