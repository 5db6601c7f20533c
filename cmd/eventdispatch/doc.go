// Package main hosts the event dispatch benchmark entrypoint.
//
// Architecture overview:
//   - Producer: generates synthetic banking events from a seeded factory and
//     hands them to the dispatcher in batches, optionally paced by a token
//     bucket.
//   - Dispatcher: a thread-safe queue for the PULL model and a callback
//     registry for the PUSH model. PUSH delivery runs inline or on a bounded
//     worker pool.
//   - Consumers: the pull consumer polls, batches and acknowledges; the push
//     consumer accumulates callback deliveries and flushes at the threshold.
//   - Sinks: memory, SQLite (modernc.org/sqlite) or Postgres (pgx), optionally
//     decorated with a JSONL archive (memory/local/GCS) and a Pub/Sub flush
//     notice.
//   - Plumbing: Viper reads config from file and DISPATCH_* env vars; zap
//     provides structured logging; Prometheus collectors are served by the
//     optional admin API together with run reports.
//
// Quick checklist:
//   - Run locally: go run ./cmd/eventdispatch -config config.yaml
//   - Pick the model with DISPATCH_RUN_MODEL=pull|push|both and the sink with
//     DISPATCH_SINK_DRIVER=memory|sqlite|postgres.
//   - With DISPATCH_SERVER_ENABLED=true the admin API keeps serving reports
//     after the runs finish until SIGINT or SIGTERM.
package main
