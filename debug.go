package multipipes

import (
	"context"
	"os"
	"runtime/pprof"
	"strconv"

	"github.com/sirupsen/logrus"
)

// debugEnvVar is this port's renaming of the source's
// PYTHONMULTIPIPESDEBUG toggle, per SPEC_FULL.md §6.
const debugEnvVar = "MULTIPIPES_DEBUG"

// DebugHooks is the small collaborator interface that isolates the
// operator-visibility features the source implements with POSIX-specific
// mechanisms (SIGUSR1 escalation, process title). Implementers that don't
// want pprof labeling, or that want escalation routed somewhere other than
// a logger, can supply their own.
type DebugHooks interface {
	// Escalate is called whenever a Worker's target raised an unhandled
	// error. The source prints a traceback to the parent process; the
	// default implementation logs it at Error level, and only while debug
	// mode is enabled (see SetDebug).
	Escalate(err error)

	// LabelWorker returns a context carrying a goroutine label identifying
	// which node/worker is executing, plus a cleanup func to call when the
	// worker's run loop exits. This is the goroutine-label analogue of the
	// source's setproctitle(f"{namespace}:{node.name}") call.
	LabelWorker(ctx context.Context, namespace, nodeName, workerID string) (context.Context, func())
}

// defaultDebugHooks is the DebugHooks implementation wired in unless the
// caller supplies its own. Escalation logs via logrus; labeling uses
// runtime/pprof, matching the conventions Chapter11/linksrus/pagerank uses
// for both.
type defaultDebugHooks struct {
	log *logrus.Logger
}

// NewDebugHooks returns the default DebugHooks. Escalation is gated by the
// package-level debug toggle (see SetDebug), itself seeded from the
// MULTIPIPES_DEBUG environment variable's initial value (non-zero integer
// enables escalation, matching the source's PYTHONMULTIPIPESDEBUG
// semantics).
func NewDebugHooks(log *logrus.Logger) DebugHooks {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &defaultDebugHooks{log: log}
}

func debugEnabledFromEnv() bool {
	v, err := strconv.Atoi(os.Getenv(debugEnvVar))
	return err == nil && v != 0
}

func (h *defaultDebugHooks) Escalate(err error) {
	if !debugEnabled {
		return
	}
	h.log.WithError(err).Error("multipipes: unhandled target error")
}

func (h *defaultDebugHooks) LabelWorker(ctx context.Context, namespace, nodeName, workerID string) (context.Context, func()) {
	labels := pprof.Labels(
		"pipeline", namespace,
		"node", nodeName,
		"worker", workerID,
	)
	labeledCtx := pprof.WithLabels(ctx, labels)
	pprof.SetGoroutineLabels(labeledCtx)
	return labeledCtx, func() {
		pprof.SetGoroutineLabels(ctx)
	}
}

// noopDebugHooks is a DebugHooks whose methods do nothing. No constructor or
// config option in this package selects it.
type noopDebugHooks struct{}

func (noopDebugHooks) Escalate(error)                                                       {}
func (noopDebugHooks) LabelWorker(ctx context.Context, _, _, _ string) (context.Context, func()) {
	return ctx, func() {}
}

// debugEnabled is the package-level toggle described in SPEC_FULL.md §6.
// The default DebugHooks read it each time Escalate is called.
var debugEnabled = debugEnabledFromEnv()

// SetDebug enables or disables escalation for every DebugHooks built via
// NewDebugHooks, including ones created before the call.
func SetDebug(enabled bool) {
	debugEnabled = enabled
}
