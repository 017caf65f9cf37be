package sqlmig

import "fmt"

// RequireWipeFallbackHint returns the error-text suffix to append when a
// migration fails partway through on a dialect whose DDL cannot be rolled
// back, so the caller knows persisted state may be left mid-migration and
// a WipeIfExists=true re-open is the recovery path. Grounded in the
// teacher's own DDL transactionality analysis (MySQL's implicit commit on
// DDL statements), reused here to decide when that warning is warranted.
func RequireWipeFallbackHint(d Dialect) string {
	if d.TransactionalDDL() {
		return ""
	}
	return fmt.Sprintf("; %s DDL is not transactional, so persisted state may be partially migrated — re-open with WipeIfExists=true to recover", d.Name())
}
