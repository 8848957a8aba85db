// Package main contains the cli implementation of the tool. It uses cobra
// package for cli tool implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"weave/internal/clientgen"
	"weave/internal/config"
	"weave/internal/connector/memory"
	sqlconn "weave/internal/connector/sql"
	"weave/internal/httpapi"
	"weave/internal/identity"
	"weave/internal/query"
	"weave/internal/schema"
)

type serveFlags struct {
	config string
}

type schemaValidateFlags struct{}

func main() {
	rootCmd := &cobra.Command{
		Use:   "weave",
		Short: "Schema-driven data access engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(clientCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP action API",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(flags)
		},
	}
	cmd.Flags().StringVarP(&flags.config, "config", "c", "weave.toml", "Path to the server configuration TOML file")
	return cmd
}

func runServe(flags *serveFlags) error {
	log := logrus.StandardLogger()

	cfg, err := config.Load(flags.config)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	graph, err := schema.ParseTOMLFile(cfg.SchemaFile)
	if err != nil {
		return fmt.Errorf("serve: loading schema %q: %w", cfg.SchemaFile, err)
	}

	orch, closeConn, err := buildOrchestrator(graph, cfg)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer closeConn()

	issuer := identity.NewIssuer(cfg.JWTSecret)
	srv := httpapi.New(graph, orch, issuer, cfg.URLPrefix, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("bind_address", cfg.BindAddress).Info("weave serve listening")
		errCh <- srv.Echo().Start(cfg.BindAddress)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpapi.ShutdownTimeout)
		defer cancel()
		return srv.Echo().Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func buildOrchestrator(graph *schema.Graph, cfg *config.ServerConfiguration) (*query.Orchestrator, func(), error) {
	if cfg.IsMemoryConnector() {
		conn := memory.New(graph)
		return query.New(graph, conn), func() {}, nil
	}
	conn, err := sqlconn.Open(context.Background(), cfg.ConnectorDSN, graph)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %q: %w", cfg.ConnectorDSN, err)
	}
	if err := conn.EnsureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return query.New(graph, conn), func() { _ = conn.Close() }, nil
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Schema file operations",
	}
	cmd.AddCommand(schemaValidateCmd())
	return cmd
}

func schemaValidateCmd() *cobra.Command {
	flags := &schemaValidateFlags{}
	cmd := &cobra.Command{
		Use:   "validate <schema.toml>",
		Short: "Parse and freeze a declarative schema file, reporting errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSchemaValidate(args[0], flags)
		},
	}
	return cmd
}

type clientGenerateFlags struct {
	target string
	out    string
}

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Client binding generation",
	}
	cmd.AddCommand(clientGenerateCmd())
	return cmd
}

func clientGenerateCmd() *cobra.Command {
	flags := &clientGenerateFlags{}
	cmd := &cobra.Command{
		Use:   "generate <schema.toml>",
		Short: "Generate typed client bindings from a declarative schema file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runClientGenerate(args[0], flags)
		},
	}
	cmd.Flags().StringVarP(&flags.target, "target", "t", "typescript", "Target language for the generated client")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "Output file path (stdout when empty)")
	return cmd
}

func runClientGenerate(path string, flags *clientGenerateFlags) error {
	graph, err := schema.ParseTOMLFile(path)
	if err != nil {
		return fmt.Errorf("client: %q: %w", path, err)
	}
	gen, err := clientgen.New(flags.target)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	out, err := gen.Generate(graph)
	if err != nil {
		return fmt.Errorf("client: generating %s bindings: %w", gen.Name(), err)
	}
	if flags.out == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(flags.out, out, 0o644); err != nil {
		return fmt.Errorf("client: writing %q: %w", flags.out, err)
	}
	return nil
}

func runSchemaValidate(path string, _ *schemaValidateFlags) error {
	graph, err := schema.ParseTOMLFile(path)
	if err != nil {
		return fmt.Errorf("schema: %q: %w", path, err)
	}
	fmt.Printf("schema %q is valid: %d model(s), %d enum(s)\n", path, len(graph.Models()), len(graph.Enums()))
	return nil
}
