// bacpacctl exports SQL Server databases to .bacpac archives and imports them
// back, either one operation per invocation or as a long-running HTTP service.
//
// Architecture overview:
//   - Operations: internal/operation.Controller owns one backup or restore at a time. The transfer engine
//     (sqlpackage, or a scripted engine under --dry-run) reports diagnostic lines from its own goroutines; those
//     lines are buffered, batched, and classified into a monotonic progress snapshot on a single consumer loop.
//   - Session: internal/app.Session pairs the backup and restore controllers on that loop and marshals calls from
//     commands and HTTP handlers onto it. Database listing, connection tests and bacpac previews gate Start while
//     they run.
//   - Lifecycle fanout: started/progress/completed events flow through a batching hub to zap logs, Prometheus,
//     the run history store (memory or Postgres), completion notifications (memory or Pub/Sub) and, for backups,
//     artifact upload (memory, local disk or GCS).
//   - Configuration & plumbing: Viper loads config files and BACPAC_* environment overrides; zap provides
//     structured logging; pterm renders progress in the terminal.
//
// Commands:
//   - bacpacctl backup --server S --user U --password P --database D --output ./backups/
//   - bacpacctl restore --bacpac ./sales.bacpac --server S --user U --password P --new-database sales_copy
//   - bacpacctl preview ./sales.bacpac
//   - bacpacctl databases --server S --user U --password P
//   - bacpacctl test-connection --connection-string "sqlserver://..."
//   - bacpacctl serve --config config.yaml
//
// Passwords may come from BACPAC_SQL_PASSWORD instead of the --password flag.
package main
