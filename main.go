/*
Command pipelinecore is the process entrypoint for the multi-tenant ETL
pipeline: it starts the Scheduler's fire-time tick loop, one of the four
stage worker pools (extract, transform, load, vectorize), the Subscriber
Gateway's websocket server, or runs the schema migration, depending on
which subcommand is invoked.

Usage:

	pipelinecore migrate --postgres-url postgres://... --catalog-dsn postgres://...
	pipelinecore scheduler --postgres-url postgres://... --amqp-url amqp://...
	pipelinecore worker --stage extract --postgres-url postgres://... --amqp-url amqp://...
	pipelinecore gateway --jwt-secret secret --port 8080

A full deployment runs each of these as its own process (or container): one
scheduler, one worker pool per stage (scaled independently), and one
gateway, all pointed at the same Postgres, RabbitMQ, Redis, and Qdrant
instances. Flag, environment variable, and config file precedence, and the
subcommands themselves, live in the cli package; this file only wires the
root command to os.Args and reports a failure with a non-zero exit code.
*/
package main

import (
	"fmt"
	"os"

	"pipelinecore.dev/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
