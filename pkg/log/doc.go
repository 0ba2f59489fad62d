/*
Package log provides structured logging for ridgeline using zerolog.

It wraps zerolog with component-scoped child loggers (WithComponent,
WithJobID, WithStepID) so every subsystem - the forwarder, the broadcast
agent, the step manager, the reconciler - tags its log lines with the
same fields without repeating boilerplate.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	stepLog := log.WithStepID(job.ID, step.ID)
	stepLog.Info().Str("node", node.Name).Msg("step allocated cores")
*/
package log
