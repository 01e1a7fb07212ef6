// Package backup turns a configured preset into one `borg create` run and
// classifies what borg reports back.
//
// A run has three steps:
//
// 1. BuildPlan resolves the archive name (<prefix><UTC timestamp>), the
// include and exclude lists and the create flags. Directories that hold the
// tool itself or the local repository are excluded when an include covers them.
//
// 2. Executor.Run fetches the passphrase from the shared cache, unless the
// repository has none, and hands the plan to the borg client.
//
// 3. The exit code is classified through the configured warning table into a
// success, warning or failed Outcome. Failed outcomes keep the tail of borg's
// stderr and a sudo hint when borg was refused access.
//
// Example usage:
//
//	exec := backup.NewExecutor(client, cache, logger)
//	plan, _ := exec.Plan(repo, preset, time.Now()) // dry run
//	out, err := exec.Run(ctx, repo, preset)
//	if err != nil && out.Kind == "" {
//		// borg could not be started, or no passphrase
//	}
package backup
