// Package recency derives the recent threads report from a full scan of the
// checkpoint log.
//
// Each thread keeps a window of its two most recent occurrences in scan order.
// After the scan, threads with a full window are reported with the older of
// the two, treating the newest checkpoint of a run as still in progress:
//
//	log: t1@1 t2@1 t1@2 t1@3
//	report: {t1, ts 2}
//
// Records missing thread_id, user_email or ts are skipped. The report relies
// on the Scanner contract that scans follow insertion order; use
// WithTimestampOrder for logs that cannot promise that.
package recency
