// Package cmd defines the CLI for the routine harvester.
//
// Architecture overview:
//   - acquire: launches one headless Chrome session, waits out the listing page's bot challenge,
//     discovers routine links and stages each document under storage/routines. Direct PDF links are
//     downloaded with the Colly fetcher using the browser's clearance cookies; routine.php pages are
//     rendered to PDF in browser tabs. Existing valid documents are never downloaded again.
//   - index: reads every staged document, writes per-page PNG and single-page PDF artifacts once,
//     extracts program, intake, section and tables from each page and atomically replaces
//     routine_db.json.
//   - run: acquire then index under one run id. A failed acquisition keeps the previous index.
//   - serve: HTTP API over the published outputs plus the scheduler, which runs the pipeline at start
//     and then every schedule.interval.
//
// Sinks: after each index the outputs are optionally mirrored to a blob store (local, memory or GCS),
// the records replace the rows of a SQLite or Postgres table, and a notification is published to
// Pub/Sub. Sink failures are logged and never fail the run.
//
// Configuration comes from the --config file, ROUTINE_* environment variables and a .env file.
package cmd
