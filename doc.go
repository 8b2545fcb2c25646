// Package analyzerd coordinates singleton startup of a per-project analysis
// server. Multiple independent invocations of the launcher may race to start
// a server for the same project; the coordinator guarantees that at most one
// of them launches it, and that the rest learn a server is already running.
//
// The protocol uses two advisory file locks under the project's state
// directory. The start lock serializes concurrent start attempts, and the
// server lock is held by a live server for its own lifetime; the coordinator
// probes the server lock without ever keeping it.
//
//	cfg := analyzerd.DefaultConfig()
//	launcher := analyzerd.ExecLauncher{Binary: cfg.Binary, Dir: project}
//	coord := analyzerd.NewCoordinator(project, cfg, launcher, logger)
//	outcome, err := coord.Start(ctx)
//
// OutcomeAlreadyRunning is a benign result, not an error: asking to start a
// server twice for the same project is expected.
package analyzerd
